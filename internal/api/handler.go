// Package api provides the HTTP handlers for the access-control REST API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pggatekeeper/internal/domain"
	"pggatekeeper/internal/service"
)

// Handler serves the versioned operator API.
type Handler struct {
	principals *service.PrincipalService
	access     *service.AccessService
	disclosure *service.DisclosureService
	reconciler *service.Reconciler
	exec       domain.Executor
	ledgerPing func(ctx context.Context) error
	audit      domain.AuditRepository
	logger     *slog.Logger
}

func NewHandler(
	principals *service.PrincipalService,
	access *service.AccessService,
	disclosure *service.DisclosureService,
	reconciler *service.Reconciler,
	exec domain.Executor,
	ledgerPing func(ctx context.Context) error,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		principals: principals,
		access:     access,
		disclosure: disclosure,
		reconciler: reconciler,
		exec:       exec,
		ledgerPing: ledgerPing,
		audit:      audit,
		logger:     logger,
	}
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("", "invalid request body: %v", err))
		return
	}
	p, err := h.principals.Create(r.Context(), domain.CreatePrincipalRequest{
		Username:   req.Username,
		Email:      req.Email,
		ValidUntil: req.ValidUntil,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, userToAPI(p))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.principals.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, userToAPI(p))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	all, err := h.principals.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]userResponse, len(all))
	for i := range all {
		out[i] = userToAPI(&all[i])
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("", "invalid request body: %v", err))
		return
	}
	p, err := h.principals.Update(r.Context(), chi.URLParam(r, "username"), domain.UpdatePrincipalRequest{
		Email:              req.Email,
		ValidUntil:         req.ValidUntil,
		RegeneratePassword: req.RegeneratePassword,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, userToAPI(p))
}

func (h *Handler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.principals.Revoke(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, userToAPI(p))
}

func (h *Handler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	var req requestAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrValidation("", "invalid request body: %v", err))
		return
	}
	g, err := h.access.Request(r.Context(), domain.CreateGrantRequest{
		Username:      req.Username,
		Tables:        req.Tables,
		Permissions:   req.Permissions,
		Justification: req.Justification,
		ValidUntil:    req.ValidUntil,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, grantToAPI(g))
}

func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.access.ListForPrincipal(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]grantResponse, len(grants))
	for i := range grants {
		out[i] = grantToAPI(&grants[i])
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.access.Revoke(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, grantToAPI(g))
}

// DecryptPassword discloses a credential's plaintext. The response is marked
// non-cacheable end to end; intermediaries must never retain it.
func (h *Handler) DecryptPassword(w http.ResponseWriter, r *http.Request) {
	password, err := h.disclosure.Reveal(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, revealResponse{Password: password})
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), 200)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = auditToAPI(e)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Ledger:     "ok",
		Target:     "ok",
		Reconciler: h.reconciler.Phase(),
	}
	status := http.StatusOK
	if err := h.ledgerPing(r.Context()); err != nil {
		resp.Ledger = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if err := h.exec.Ping(r.Context()); err != nil {
		resp.Target = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	h.writeJSON(w, status, errorResponse{Code: status, Kind: errorKind(err), Message: errorMessage(err)})
}

// Package middleware provides HTTP middleware for the access-control API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"pggatekeeper/internal/domain"
)

// DefaultOperatorHeader carries the operator identity asserted by the
// authenticating reverse proxy in front of this service.
const DefaultOperatorHeader = "X-Operator"

// Operator requires an operator identity header on every request and stores
// it in the context for audit attribution. Requests without one are rejected:
// anonymous mutations would leave audit rows attributed to nobody.
func Operator(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultOperatorHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := strings.TrimSpace(r.Header.Get(header))
			if name == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusUnauthorized,
					"message": "missing operator identity header " + header,
				})
				return
			}
			ctx := domain.WithOperator(r.Context(), domain.Operator{Name: name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

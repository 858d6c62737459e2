package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pggatekeeper/internal/domain"
)

func grantReq(username string) domain.CreateGrantRequest {
	return domain.CreateGrantRequest{
		Username:      username,
		Tables:        []string{"orders", "analytics.events"},
		Permissions:   []string{"SELECT", "insert"},
		Justification: "ticket OPS-1432",
		ValidUntil:    time.Now().UTC().Add(4 * time.Hour),
	}
}

func TestAccessService_Request(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	g, err := env.access.Request(opCtx(), grantReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.GrantActive, g.Status)
	// Raw names canonicalize to schema-qualified form, case-insensitive perms.
	assert.Equal(t, []string{"public.orders", "analytics.events"}, g.Tables)
	assert.ElementsMatch(t, []domain.Permission{domain.PermSelect, domain.PermInsert}, g.Permissions)
	assert.ElementsMatch(t, g.Desired(), g.Applied, "applied should converge to desired")
	assert.ElementsMatch(t, g.Desired(), env.engine.pairs("alice"))

	assert.Contains(t, env.auditActions(t), domain.AuditActionGrantAccess)
}

func TestAccessService_Request_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*domain.CreateGrantRequest)
		field  string
	}{
		{"no tables", func(r *domain.CreateGrantRequest) { r.Tables = nil }, "tables"},
		{"bad table", func(r *domain.CreateGrantRequest) { r.Tables = []string{"orders; drop--"} }, "tables"},
		{"no permissions", func(r *domain.CreateGrantRequest) { r.Permissions = nil }, "permissions"},
		{"unknown permission", func(r *domain.CreateGrantRequest) { r.Permissions = []string{"GRANT OPTION"} }, "permissions"},
		{"empty justification", func(r *domain.CreateGrantRequest) { r.Justification = "   " }, "justification"},
		{"past validity", func(r *domain.CreateGrantRequest) { r.ValidUntil = time.Now().Add(-time.Minute) }, "valid_until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := grantReq("alice")
			tt.mutate(&req)
			_, err := env.access.Request(opCtx(), req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAccessService_Request_PrincipalNotActive(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	_, err = env.principals.Revoke(opCtx(), "alice")
	require.NoError(t, err)

	_, err = env.access.Request(opCtx(), grantReq("alice"))
	var naerr *domain.PrincipalNotActiveError
	assert.ErrorAs(t, err, &naerr)
}

func TestAccessService_Request_UnknownPrincipal(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.access.Request(opCtx(), grantReq("ghost"))
	var nferr *domain.NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

func TestAccessService_Revoke_OverlapSurvives(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	first, err := env.access.Request(opCtx(), domain.CreateGrantRequest{
		Username:      "alice",
		Tables:        []string{"orders"},
		Permissions:   []string{"SELECT", "INSERT"},
		Justification: "oncall",
		ValidUntil:    time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	second, err := env.access.Request(opCtx(), domain.CreateGrantRequest{
		Username:      "alice",
		Tables:        []string{"orders"},
		Permissions:   []string{"SELECT"},
		Justification: "dashboard",
		ValidUntil:    time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	revoked, err := env.access.Revoke(opCtx(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GrantRevoked, revoked.Status)
	assert.Empty(t, revoked.Applied)

	// SELECT is still covered by the second grant; INSERT is gone.
	want := []domain.TablePermission{{Table: "public.orders", Permission: domain.PermSelect}}
	assert.Equal(t, want, env.engine.pairs("alice"))

	remaining, err := env.access.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, want, remaining.Applied)
}

func TestAccessService_Revoke_AlreadyRevoked(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	g, err := env.access.Request(opCtx(), grantReq("alice"))
	require.NoError(t, err)

	_, err = env.access.Revoke(opCtx(), g.ID)
	require.NoError(t, err)
	_, err = env.access.Revoke(opCtx(), g.ID)
	var cerr *domain.ConflictError
	assert.ErrorAs(t, err, &cerr)
}

func TestAccessService_Request_PartialFailureRecordsReality(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	applyErr := errors.New("permission denied for table events")
	partial := []domain.TablePermission{{Table: "public.orders", Permission: domain.PermSelect}}
	env.engine.applyFn = func(context.Context, string, []domain.TablePermission) domain.ApplyResult {
		return domain.ApplyResult{Applied: partial, Err: applyErr}
	}

	_, err = env.access.Request(opCtx(), domain.CreateGrantRequest{
		Username:      "alice",
		Tables:        []string{"orders", "events"},
		Permissions:   []string{"SELECT"},
		Justification: "oncall",
		ValidUntil:    time.Now().UTC().Add(time.Hour),
	})
	require.ErrorIs(t, err, applyErr)

	// The ledger records what actually took effect, not the intent.
	grants, lerr := env.grantRepo.ListForPrincipal(context.Background(), "alice")
	require.NoError(t, lerr)
	require.Len(t, grants, 1)
	assert.Equal(t, partial, grants[0].Applied)
	assert.Equal(t, domain.GrantActive, grants[0].Status)
}

func TestAccessService_ListForPrincipal(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	g, err := env.access.Request(opCtx(), grantReq("alice"))
	require.NoError(t, err)
	_, err = env.access.Revoke(opCtx(), g.ID)
	require.NoError(t, err)

	all, err := env.access.ListForPrincipal(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = env.access.ListForPrincipal(context.Background(), "ghost")
	var nferr *domain.NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pggatekeeper/internal/domain"
)

func createReq(username string) domain.CreatePrincipalRequest {
	return domain.CreatePrincipalRequest{
		Username:   username,
		Email:      username + "@example.com",
		ValidUntil: time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestPrincipalService_Create(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalActive, p.Status)
	assert.False(t, p.Provisioning)
	assert.NotEmpty(t, p.CredentialRef)

	pw, ok := env.engine.password("alice")
	require.True(t, ok, "role should exist at the engine")
	assert.GreaterOrEqual(t, len(pw), 16)

	secret, err := env.secretRepo.GetByRef(context.Background(), p.CredentialRef)
	require.NoError(t, err)
	assert.NotContains(t, string(secret.Ciphertext), pw, "ciphertext must not embed the plaintext")

	assert.Contains(t, env.auditActions(t), domain.AuditActionCreateUser)
}

func TestPrincipalService_Create_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		req   domain.CreatePrincipalRequest
		field string
	}{
		{"bad username", domain.CreatePrincipalRequest{Username: "1bad!", Email: "a@b.com", ValidUntil: time.Now().Add(time.Hour)}, "username"},
		{"uppercase username", domain.CreatePrincipalRequest{Username: "Alice", Email: "a@b.com", ValidUntil: time.Now().Add(time.Hour)}, "username"},
		{"bad email", domain.CreatePrincipalRequest{Username: "alice", Email: "not-an-email", ValidUntil: time.Now().Add(time.Hour)}, "email"},
		{"past validity", domain.CreatePrincipalRequest{Username: "alice", Email: "a@b.com", ValidUntil: time.Now().Add(-time.Hour)}, "valid_until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.principals.Create(opCtx(), tt.req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPrincipalService_Create_Duplicate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	_, err = env.principals.Create(opCtx(), createReq("alice"))
	var cerr *domain.ConflictError
	assert.ErrorAs(t, err, &cerr)
}

func TestPrincipalService_Create_IssueFailureLeavesProvisioning(t *testing.T) {
	env := newTestEnv(t)
	env.engine.issueErr = domain.ErrUnavailable("engine down")

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.Error(t, err)

	p, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, p.Provisioning, "principal should be persisted in provisioning")
	assert.Equal(t, domain.PrincipalActive, p.Status)

	// Once the engine recovers the reconciler completes issuance.
	env.engine.issueErr = nil
	env.reconciler.RunCycle(context.Background())

	p, err = env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, p.Provisioning)
	_, ok := env.engine.password("alice")
	assert.True(t, ok)
	assert.Contains(t, env.auditActions(t), domain.AuditActionReissueRole)
}

func TestPrincipalService_Update_Email(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	email := "new@example.com"
	p, err := env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, email, p.Email)
}

func TestPrincipalService_Update_NoChanges(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPrincipalService_Update_RegeneratePassword(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	oldRef := created.CredentialRef
	oldPw, _ := env.engine.password("alice")

	p, err := env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{RegeneratePassword: true})
	require.NoError(t, err)
	require.NotEqual(t, oldRef, p.CredentialRef)

	newPw, _ := env.engine.password("alice")
	assert.NotEqual(t, oldPw, newPw, "engine password should rotate")

	old, err := env.secretRepo.GetByRef(context.Background(), oldRef)
	require.NoError(t, err)
	assert.True(t, old.Superseded)

	// The superseded reference can never be disclosed.
	_, err = env.disclosure.Reveal(opCtx(), oldRef)
	var arerr *domain.AlreadyRevealedError
	assert.ErrorAs(t, err, &arerr)

	// The new reference discloses the rotated password.
	plaintext, err := env.disclosure.Reveal(opCtx(), p.CredentialRef)
	require.NoError(t, err)
	assert.Equal(t, newPw, plaintext)

	assert.Contains(t, env.auditActions(t), domain.AuditActionRotatePassword)
}

func TestPrincipalService_Update_ExtendValidity(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	pwBefore, _ := env.engine.password("alice")

	until := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)
	p, err := env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{ValidUntil: &until})
	require.NoError(t, err)
	assert.Equal(t, until, p.ValidUntil)
	assert.Equal(t, domain.PrincipalActive, p.Status)

	// The engine role carries the new validity with an unchanged password.
	pwAfter, _ := env.engine.password("alice")
	assert.Equal(t, pwBefore, pwAfter)
	env.engine.mu.Lock()
	assert.Equal(t, until, env.engine.validUntil["alice"])
	env.engine.mu.Unlock()
}

func TestPrincipalService_Update_ShortenToPastExpiresNow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	_, err = env.access.Request(opCtx(), domain.CreateGrantRequest{
		Username:      "alice",
		Tables:        []string{"orders"},
		Permissions:   []string{"SELECT"},
		Justification: "incident review",
		ValidUntil:    time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	p, err := env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{ValidUntil: &past})
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalExpired, p.Status)

	_, ok := env.engine.password("alice")
	assert.False(t, ok, "role should be dropped")
	assert.Empty(t, env.engine.pairs("alice"))

	grants, err := env.grantRepo.ListForPrincipal(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, domain.GrantRevoked, grants[0].Status)
	assert.Empty(t, grants[0].Applied)
}

func TestPrincipalService_Update_TerminalRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	_, err = env.principals.Revoke(opCtx(), "alice")
	require.NoError(t, err)

	email := "x@example.com"
	_, err = env.principals.Update(opCtx(), "alice", domain.UpdatePrincipalRequest{Email: &email})
	var naerr *domain.PrincipalNotActiveError
	assert.ErrorAs(t, err, &naerr)
}

func TestPrincipalService_Revoke(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	_, err = env.access.Request(opCtx(), domain.CreateGrantRequest{
		Username:      "alice",
		Tables:        []string{"orders"},
		Permissions:   []string{"SELECT", "INSERT"},
		Justification: "oncall",
		ValidUntil:    time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	p, err := env.principals.Revoke(opCtx(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalRevoked, p.Status)

	_, ok := env.engine.password("alice")
	assert.False(t, ok)

	grants, err := env.grantRepo.ListActiveForPrincipal(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, grants)

	actions := env.auditActions(t)
	assert.Contains(t, actions, domain.AuditActionRevokeUser)
	assert.Contains(t, actions, domain.AuditActionRevokeAccess)
}

func TestPrincipalService_Revoke_AlreadyTerminal(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	_, err = env.principals.Revoke(opCtx(), "alice")
	require.NoError(t, err)

	_, err = env.principals.Revoke(opCtx(), "alice")
	var cerr *domain.ConflictError
	assert.ErrorAs(t, err, &cerr)
}

func TestPrincipalService_Revoke_DependentObjects(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	env.engine.dropErr = &domain.DependentObjectsError{Role: "alice"}

	_, err = env.principals.Revoke(opCtx(), "alice")
	var derr *domain.DependentObjectsError
	require.ErrorAs(t, err, &derr)

	// Revocation is final in the ledger even though the role lingers.
	p, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalRevoked, p.Status)
	assert.Empty(t, env.engine.pairs("alice"))
}

func TestPrincipalService_GetAndList(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	_, err = env.principals.Create(opCtx(), createReq("bob"))
	require.NoError(t, err)

	p, err := env.principals.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	all, err := env.principals.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.principals.Get(context.Background(), "ghost")
	var nferr *domain.NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for range 8 {
		pw, err := generatePassword()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(pw), 16)
		assert.False(t, seen[pw], "passwords must not repeat")
		seen[pw] = true

		for _, set := range passwordClasses {
			assert.True(t, strings.ContainsAny(pw, set), "missing class %q in %q", set, pw)
		}
	}
}

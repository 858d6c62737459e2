package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pggatekeeper/internal/domain"
)

// plantExpiredGrant writes an active grant whose validity already lapsed and
// mirrors its pairs into the fake engine, as if it had been applied earlier.
func plantExpiredGrant(t *testing.T, env *testEnv, owner string) *domain.AccessGrant {
	t.Helper()
	now := time.Now().UTC()
	g := &domain.AccessGrant{
		ID:            domain.NewID(),
		Owner:         owner,
		Tables:        []string{"public.orders"},
		Permissions:   []domain.Permission{domain.PermSelect},
		Justification: "expired window",
		ValidUntil:    now.Add(-time.Minute),
		Status:        domain.GrantActive,
		Applied:       []domain.TablePermission{{Table: "public.orders", Permission: domain.PermSelect}},
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, env.grantRepo.Create(context.Background(), g))

	env.engine.mu.Lock()
	env.engine.granted[owner] = map[domain.TablePermission]bool{
		{Table: "public.orders", Permission: domain.PermSelect}: true,
	}
	env.engine.mu.Unlock()
	return g
}

func TestReconciler_ExpiredGrantRevoked(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	g := plantExpiredGrant(t, env, "alice")

	env.reconciler.RunCycle(context.Background())

	got, err := env.grantRepo.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GrantRevoked, got.Status)
	assert.Empty(t, got.Applied)
	assert.Empty(t, env.engine.pairs("alice"))
	assert.Contains(t, env.auditActions(t), domain.AuditActionExpireAccess)

	// The principal itself is untouched.
	p, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalActive, p.Status)
}

func TestReconciler_ExpiredPrincipalTerminated(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)

	// Lapse the validity directly in the ledger.
	p, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	p.ValidUntil = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.principalRepo.Update(context.Background(), p))

	env.reconciler.RunCycle(context.Background())

	p, err = env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalExpired, p.Status)
	_, ok := env.engine.password("alice")
	assert.False(t, ok, "role should be dropped")
	assert.Contains(t, env.auditActions(t), domain.AuditActionExpireUser)
}

func TestReconciler_DependentObjectsRetriedNextCycle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.principals.Create(opCtx(), createReq("alice"))
	require.NoError(t, err)
	p, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	p.ValidUntil = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, env.principalRepo.Update(context.Background(), p))

	env.engine.dropErr = &domain.DependentObjectsError{Role: "alice"}
	env.reconciler.RunCycle(context.Background())

	// Privileges are gone but the status stays non-terminal for the retry.
	p, err = env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalActive, p.Status)
	assert.Empty(t, env.engine.pairs("alice"))

	env.engine.dropErr = nil
	env.reconciler.RunCycle(context.Background())

	p, err = env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalExpired, p.Status)
	_, ok := env.engine.password("alice")
	assert.False(t, ok)
}

func TestReconciler_OneFailureDoesNotStallOthers(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"alice", "bob"} {
		_, err := env.principals.Create(opCtx(), createReq(name))
		require.NoError(t, err)
		p, err := env.principalRepo.GetByUsername(context.Background(), name)
		require.NoError(t, err)
		p.ValidUntil = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, env.principalRepo.Update(context.Background(), p))
	}

	env.engine.dropFn = func(ctx context.Context, username string) error {
		if username == "alice" {
			return &domain.DependentObjectsError{Role: username}
		}
		env.engine.mu.Lock()
		delete(env.engine.roles, username)
		env.engine.mu.Unlock()
		return nil
	}
	env.reconciler.RunCycle(context.Background())

	alice, err := env.principalRepo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalActive, alice.Status, "failed drop stays pending")

	bob, err := env.principalRepo.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalExpired, bob.Status, "other principals still sweep")
}

func TestReconciler_PhaseAndLastRun(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, PhaseIdle, env.reconciler.Phase())
	assert.True(t, env.reconciler.LastRun().IsZero())

	env.reconciler.RunCycle(context.Background())

	assert.Equal(t, PhaseIdle, env.reconciler.Phase())
	assert.False(t, env.reconciler.LastRun().IsZero())
}

func TestReconciler_StartStop(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.reconciler.Start())
	env.reconciler.Stop()
}

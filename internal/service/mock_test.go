package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	internaldb "pggatekeeper/internal/db"
	"pggatekeeper/internal/db/repository"
	"pggatekeeper/internal/domain"
	"pggatekeeper/internal/vault"
)

// === Fake target engine ===

// fakeEngine is an in-memory stand-in for the Postgres executor. It tracks
// roles and granted pairs so tests can assert on converged state, with error
// injection fields and per-method overrides for failure scenarios.
type fakeEngine struct {
	mu         sync.Mutex
	roles      map[string]string // username → current password
	validUntil map[string]time.Time
	granted    map[string]map[domain.TablePermission]bool
	dropped    []string

	issueErr    error
	passwordErr error
	revokeErr   error
	dropErr     error
	applyFn     func(ctx context.Context, username string, desired []domain.TablePermission) domain.ApplyResult
	dropFn      func(ctx context.Context, username string) error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		roles:      make(map[string]string),
		validUntil: make(map[string]time.Time),
		granted:    make(map[string]map[domain.TablePermission]bool),
	}
}

func (f *fakeEngine) IssueRole(_ context.Context, username, password string, validUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return f.issueErr
	}
	f.roles[username] = password
	f.validUntil[username] = validUntil
	return nil
}

func (f *fakeEngine) SetRolePassword(_ context.Context, username, password string, validUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passwordErr != nil {
		return f.passwordErr
	}
	f.roles[username] = password
	f.validUntil[username] = validUntil
	return nil
}

func (f *fakeEngine) Apply(ctx context.Context, username string, desired []domain.TablePermission) domain.ApplyResult {
	if f.applyFn != nil {
		return f.applyFn(ctx, username, desired)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[domain.TablePermission]bool, len(desired))
	for _, tp := range desired {
		set[tp] = true
	}
	f.granted[username] = set
	applied := append([]domain.TablePermission(nil), desired...)
	domain.SortTablePermissions(applied)
	return domain.ApplyResult{Applied: applied}
}

func (f *fakeEngine) RevokeAll(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return f.revokeErr
	}
	delete(f.granted, username)
	return nil
}

func (f *fakeEngine) DropRole(ctx context.Context, username string) error {
	if f.dropFn != nil {
		return f.dropFn(ctx, username)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropErr != nil {
		return f.dropErr
	}
	delete(f.roles, username)
	delete(f.validUntil, username)
	f.dropped = append(f.dropped, username)
	return nil
}

func (f *fakeEngine) Ping(context.Context) error { return nil }

// pairs returns the sorted granted pairs currently held by the role.
func (f *fakeEngine) pairs(username string) []domain.TablePermission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TablePermission
	for tp := range f.granted[username] {
		out = append(out, tp)
	}
	domain.SortTablePermissions(out)
	return out
}

func (f *fakeEngine) password(username string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pw, ok := f.roles[username]
	return pw, ok
}

// === Audit repository wrapper with injectable failure ===

type failingAudit struct {
	domain.AuditRepository
	failAction string
	err        error
}

func (a *failingAudit) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.Action == a.failAction {
		return a.err
	}
	return a.AuditRepository.Insert(ctx, e)
}

// === Test environment ===

type testEnv struct {
	principals *PrincipalService
	access     *AccessService
	disclosure *DisclosureService
	reconciler *Reconciler
	engine     *fakeEngine
	keyring    *vault.Keyring

	principalRepo *repository.PrincipalRepo
	grantRepo     *repository.GrantRepo
	secretRepo    *repository.SecretRepo
	auditRepo     *repository.AuditRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, _ := internaldb.OpenTestSQLite(t)
	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyring, err := vault.New(map[string]string{"v1": key}, "v1")
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}

	env := &testEnv{
		engine:        newFakeEngine(),
		keyring:       keyring,
		principalRepo: repository.NewPrincipalRepo(db),
		grantRepo:     repository.NewGrantRepo(db),
		secretRepo:    repository.NewSecretRepo(db),
		auditRepo:     repository.NewAuditRepo(db),
	}

	logger := slog.New(slog.DiscardHandler)
	locks := NewLocker()
	retry := RetryPolicy{Attempts: 1, Interval: time.Millisecond, Timeout: time.Second}
	converger := NewConverger(env.grantRepo, env.engine, retry, logger)

	env.principals = NewPrincipalService(
		env.principalRepo, env.grantRepo, env.secretRepo, env.auditRepo,
		env.engine, keyring, locks, retry, logger)
	env.access = NewAccessService(
		env.principalRepo, env.grantRepo, env.auditRepo, converger, locks, logger)
	env.disclosure = NewDisclosureService(
		env.principalRepo, env.secretRepo, env.auditRepo, keyring, false, logger)
	env.reconciler = NewReconciler(
		env.principalRepo, env.grantRepo, env.principals, env.access, time.Minute, logger)
	return env
}

func opCtx() context.Context {
	return domain.WithOperator(context.Background(), domain.Operator{Name: "tester"})
}

// auditActions returns all recorded audit actions.
func (env *testEnv) auditActions(t *testing.T) []string {
	t.Helper()
	entries, err := env.auditRepo.List(context.Background(), 100)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}

// Package app provides application-level wiring for the access-control
// service following hexagonal architecture.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"pggatekeeper/internal/api"
	"pggatekeeper/internal/config"
	"pggatekeeper/internal/db/repository"
	"pggatekeeper/internal/executor"
	"pggatekeeper/internal/service"
	"pggatekeeper/internal/vault"
)

// Deps holds the external dependencies that main() must provide: database
// handles, the target engine connection, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	// Target is the connection to the managed PostgreSQL cluster. Nil is
	// allowed for ledger-only commands; serving requires it.
	Target executor.Querier
	Logger *slog.Logger
}

// Services groups the service pointers the API handler needs.
type Services struct {
	Principal  *service.PrincipalService
	Access     *service.AccessService
	Disclosure *service.DisclosureService
}

// App holds the fully wired application.
type App struct {
	Services   Services
	Reconciler *service.Reconciler
	Router     http.Handler
}

// New wires repositories, vault, executor, services, reconciler, and the
// HTTP router from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg

	keyring, err := vault.New(cfg.EncryptionKeys, cfg.ActiveKeyVersion)
	if err != nil {
		return nil, fmt.Errorf("encryption keyring: %w", err)
	}

	// Repositories: writes go through the single-connection pool, reads may
	// use the read pool.
	principalRepo := repository.NewPrincipalRepo(deps.WriteDB)
	grantRepo := repository.NewGrantRepo(deps.WriteDB)
	secretRepo := repository.NewSecretRepo(deps.WriteDB)
	auditRepo := repository.NewAuditRepo(deps.WriteDB)

	exec := executor.NewPostgres(deps.Target, deps.Logger.With("component", "executor"))

	retry := service.RetryPolicy{
		Attempts: uint64(cfg.RetryAttempts),
		Interval: cfg.RetryInterval,
		Timeout:  cfg.ExecutorTimeout,
	}
	locks := service.NewLocker()
	converger := service.NewConverger(grantRepo, exec, retry, deps.Logger.With("component", "converger"))

	principalSvc := service.NewPrincipalService(
		principalRepo, grantRepo, secretRepo, auditRepo,
		exec, keyring, locks, retry, deps.Logger.With("component", "principal"))
	accessSvc := service.NewAccessService(
		principalRepo, grantRepo, auditRepo, converger, locks,
		deps.Logger.With("component", "access"))
	disclosureSvc := service.NewDisclosureService(
		principalRepo, secretRepo, auditRepo, keyring, cfg.RevealRepeatAllowed(),
		deps.Logger.With("component", "disclosure"))
	reconciler := service.NewReconciler(
		principalRepo, grantRepo, principalSvc, accessSvc, cfg.ReconcileInterval,
		deps.Logger.With("component", "reconciler"))

	handler := api.NewHandler(
		principalSvc, accessSvc, disclosureSvc, reconciler,
		exec, deps.ReadDB.PingContext, auditRepo, deps.Logger.With("component", "api"))
	router := api.NewRouter(handler, api.RouterConfig{
		OperatorHeader:     cfg.OperatorHeader,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &App{
		Services: Services{
			Principal:  principalSvc,
			Access:     accessSvc,
			Disclosure: disclosureSvc,
		},
		Reconciler: reconciler,
		Router:     router,
	}, nil
}

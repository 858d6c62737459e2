package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pggatekeeper/internal/domain"
)

// Reconciler cycle phases, exposed for health introspection.
const (
	PhaseIdle     = "idle"
	PhaseScanning = "scanning"
	PhaseRevoking = "revoking"
)

// Reconciler runs the periodic expiry sweep: lapsed grants are revoked,
// lapsed principals terminated, and half-provisioned principals reissued.
// Each entity is handled in isolation so one failure never stalls the sweep.
type Reconciler struct {
	cron       *cron.Cron
	principals domain.PrincipalRepository
	grants     domain.GrantRepository
	principal  *PrincipalService
	access     *AccessService
	interval   time.Duration
	logger     *slog.Logger

	phase   atomic.Value // string
	lastRun atomic.Value // time.Time
	// runMu keeps cycles from overlapping when a sweep outlasts the interval.
	runMu sync.Mutex
}

func NewReconciler(
	principals domain.PrincipalRepository,
	grants domain.GrantRepository,
	principal *PrincipalService,
	access *AccessService,
	interval time.Duration,
	logger *slog.Logger,
) *Reconciler {
	r := &Reconciler{
		cron:       cron.New(),
		principals: principals,
		grants:     grants,
		principal:  principal,
		access:     access,
		interval:   interval,
		logger:     logger,
	}
	r.phase.Store(PhaseIdle)
	return r
}

// Start schedules the sweep at the configured interval.
func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
		r.RunCycle(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduling reconciler: %w", err)
	}
	r.cron.Start()
	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish.
func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("reconciler stopped")
}

// Phase returns the current cycle phase.
func (r *Reconciler) Phase() string {
	return r.phase.Load().(string)
}

// LastRun returns the completion time of the most recent cycle, zero if none.
func (r *Reconciler) LastRun() time.Time {
	if v := r.lastRun.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// RunCycle performs one full sweep. Safe to invoke directly; concurrent
// invocations serialize.
func (r *Reconciler) RunCycle(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now().UTC()
	r.phase.Store(PhaseScanning)
	defer func() {
		r.phase.Store(PhaseIdle)
		r.lastRun.Store(time.Now().UTC())
	}()

	expiredGrants, err := r.grants.FindExpired(ctx, start)
	if err != nil {
		r.logger.Error("reconcile scan failed", slog.String("stage", "grants"), slog.String("error", err.Error()))
		return
	}
	expiredPrincipals, err := r.principals.FindExpired(ctx, start)
	if err != nil {
		r.logger.Error("reconcile scan failed", slog.String("stage", "principals"), slog.String("error", err.Error()))
		return
	}
	provisioning, err := r.principals.FindProvisioning(ctx)
	if err != nil {
		r.logger.Error("reconcile scan failed", slog.String("stage", "provisioning"), slog.String("error", err.Error()))
		return
	}

	r.phase.Store(PhaseRevoking)
	for _, g := range expiredGrants {
		if err := r.access.ExpireGrant(ctx, g.ID); err != nil {
			r.logger.Error("grant expiry failed",
				slog.String("grant_id", g.ID),
				slog.String("owner", g.Owner),
				slog.String("error", err.Error()))
		}
	}
	for _, p := range expiredPrincipals {
		if err := r.principal.Expire(ctx, p.Username); err != nil {
			r.logger.Error("principal expiry failed",
				slog.String("username", p.Username),
				slog.String("error", err.Error()))
		}
	}
	for _, p := range provisioning {
		if p.Status.Terminal() {
			continue
		}
		if err := r.principal.ReissueProvisioning(ctx, p.Username); err != nil {
			r.logger.Error("provisioning retry failed",
				slog.String("username", p.Username),
				slog.String("error", err.Error()))
		}
	}

	r.logger.Info("reconcile cycle complete",
		slog.Int("expired_grants", len(expiredGrants)),
		slog.Int("expired_principals", len(expiredPrincipals)),
		slog.Int("provisioning_retries", len(provisioning)),
		slog.Duration("elapsed", time.Since(start)))
}

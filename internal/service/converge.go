package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pggatekeeper/internal/domain"
)

// Converger drives the target engine toward the ledger's declared state for
// one principal and writes the observed outcome back. Callers must hold the
// principal's lock.
type Converger struct {
	grants domain.GrantRepository
	exec   domain.Executor
	retry  RetryPolicy
	logger *slog.Logger
}

func NewConverger(grants domain.GrantRepository, exec domain.Executor, retry RetryPolicy, logger *slog.Logger) *Converger {
	return &Converger{grants: grants, exec: exec, retry: retry, logger: logger}
}

// Apply merges every currently valid grant for the principal into one desired
// set, applies the diff against the engine, and persists per-grant applied
// state from what actually took effect. On partial failure the ledger still
// records reality before the error is returned.
func (c *Converger) Apply(ctx context.Context, username string) error {
	active, err := c.grants.ListActiveForPrincipal(ctx, username)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var valid []domain.AccessGrant
	for _, g := range active {
		if g.ActiveAt(now) {
			valid = append(valid, g)
		}
	}
	desired := domain.MergeDesired(valid)

	var result domain.ApplyResult
	retryErr := c.retry.run(ctx, func(ctx context.Context) error {
		result = c.exec.Apply(ctx, username, desired)
		var unavailable *domain.UnavailableError
		if result.Err != nil && errors.As(result.Err, &unavailable) {
			return result.Err
		}
		return nil
	})
	if retryErr != nil && len(result.Applied) == 0 {
		// Nothing took effect at the engine; ledger state is already accurate.
		return retryErr
	}

	held := make(map[domain.TablePermission]bool, len(result.Applied))
	for _, tp := range result.Applied {
		held[tp] = true
	}
	for _, g := range valid {
		var applied []domain.TablePermission
		for _, tp := range g.Desired() {
			if held[tp] {
				applied = append(applied, tp)
			}
		}
		g.Applied = applied
		g.UpdatedAt = now
		if uerr := c.grants.Update(ctx, &g); uerr != nil {
			return uerr
		}
	}
	if result.Err != nil {
		c.logger.Warn("engine apply incomplete",
			slog.String("username", username),
			slog.Int("applied", len(result.Applied)),
			slog.String("error", result.Err.Error()))
		return result.Err
	}
	return nil
}

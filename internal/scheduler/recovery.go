package scheduler

import (
	"context"
	"fmt"

	"sendlater/internal/domain"
	"sendlater/internal/metrics"
)

// RecoveryReport summarises one recovery pass.
type RecoveryReport struct {
	Loaded  int
	Armed   int
	Overdue int // armed with a fire time already in the past
	Dropped int
	Skipped int
}

// Recover rebuilds the timer registry from the store. It must run before the
// engine accepts requests and succeeds at most once per engine. A record that
// cannot be decoded or re-armed is logged and skipped; only a failing scan
// aborts.
func (e *Engine) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if !e.recovered.CompareAndSwap(false, true) {
		return report, ErrAlreadyRecovered
	}

	tasks, bad, err := e.store.LoadAll(ctx)
	if err != nil {
		e.recovered.Store(false)
		return report, fmt.Errorf("load tasks: %w", err)
	}

	for _, rec := range bad {
		report.Loaded++
		e.skip(&report, rec.ID, fmt.Errorf("%w: %w", ErrRecoveryLoad, rec))
	}

	now := e.clock()
	for _, t := range tasks {
		report.Loaded++

		if err := validateRecord(t); err != nil {
			e.skip(&report, t.ID, err)
			continue
		}

		overdue := t.Overdue(now)
		if overdue && e.config.Recovery == RecoveryDrop {
			if err := e.store.Delete(ctx, t.ID); err != nil {
				e.skip(&report, t.ID, fmt.Errorf("%w: drop missed task: %w", ErrRecoveryLoad, err))
				continue
			}
			report.Dropped++
			e.metrics.RecoveryRecord(metrics.RecoveryDropped)
			e.log.Warn().
				Str("task_id", t.ID).
				Time("fire_at", t.FireAt).
				Msg("recovery: dropped missed task")
			continue
		}

		if err := e.arm(t); err != nil {
			e.skip(&report, t.ID, fmt.Errorf("%w: %w", ErrRecoveryLoad, err))
			continue
		}
		report.Armed++
		if overdue {
			report.Overdue++
			e.metrics.RecoveryRecord(metrics.RecoveryOverdue)
			e.log.Info().Str("task_id", t.ID).Time("fire_at", t.FireAt).Msg("recovery: overdue task fires now")
		} else {
			e.metrics.RecoveryRecord(metrics.RecoveryArmed)
		}
	}
	return report, nil
}

func (e *Engine) skip(report *RecoveryReport, id string, err error) {
	report.Skipped++
	e.metrics.RecoveryRecord(metrics.RecoverySkipped)
	e.log.Error().Err(err).Str("task_id", id).Msg("recovery: skipping record")
}

func validateRecord(t domain.Task) error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrRecoveryLoad)
	}
	if t.FireAt.IsZero() || t.FireAt.Unix() <= 0 {
		return fmt.Errorf("%w: missing fire time", ErrRecoveryLoad)
	}
	return nil
}

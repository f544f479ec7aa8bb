package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Auditor periodically compares the ids in the store with the ids held by the
// timer registry. It only reports; it never arms or deletes anything.
//
// A single sweep can catch a task between persist and arm, or between delete
// and remove, so an id is reported only after it diverged on two consecutive
// sweeps.
type Auditor struct {
	engine  *Engine
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	log     zerolog.Logger

	mu        sync.Mutex
	suspects  map[string]struct{}
	lastDrift []string
}

func NewAuditor(e *Engine, spec string, logger zerolog.Logger) (*Auditor, error) {
	if err := ValidateCronExpression(spec); err != nil {
		return nil, err
	}
	a := &Auditor{
		engine:   e,
		cron:     cron.New(),
		spec:     spec,
		timeout:  30 * time.Second,
		log:      logger,
		suspects: make(map[string]struct{}),
	}
	if _, err := a.cron.AddFunc(spec, a.run); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Auditor) Start() {
	a.cron.Start()
	a.log.Info().Str("spec", a.spec).Msg("audit started")
}

// Stop waits for a running sweep to finish.
func (a *Auditor) Stop() {
	<-a.cron.Stop().Done()
}

func (a *Auditor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if _, err := a.Sweep(ctx); err != nil {
		a.log.Error().Err(err).Msg("audit sweep failed")
	}
}

// Sweep performs one comparison and returns the ids that diverged on this
// and the previous sweep.
func (a *Auditor) Sweep(ctx context.Context) ([]string, error) {
	ids, err := a.engine.store.LoadIDs(ctx)
	if err != nil {
		return nil, err
	}
	armed := make(map[string]struct{})
	for _, id := range a.engine.timers.IDs() {
		armed[id] = struct{}{}
	}

	current := make(map[string]struct{})
	stored := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		stored[id] = struct{}{}
		if _, ok := armed[id]; !ok {
			current[id] = struct{}{}
		}
	}
	for id := range armed {
		if _, ok := stored[id]; !ok {
			current[id] = struct{}{}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var confirmed []string
	storeOnly, registryOnly := 0, 0
	for id := range current {
		if _, seen := a.suspects[id]; !seen {
			continue
		}
		confirmed = append(confirmed, id)
		if _, ok := stored[id]; ok {
			storeOnly++
			a.log.Warn().Str("task_id", id).Msg("audit: persisted task has no timer")
		} else {
			registryOnly++
			a.log.Warn().Str("task_id", id).Msg("audit: timer has no persisted task")
		}
	}
	a.suspects = current
	sort.Strings(confirmed)
	a.lastDrift = confirmed

	a.engine.metrics.AuditDrift(storeOnly, registryOnly)
	a.engine.metrics.TimersArmed(len(armed))
	a.log.Debug().
		Int("stored", len(stored)).
		Int("armed", len(armed)).
		Int("drift", len(confirmed)).
		Msg("audit sweep complete")
	return confirmed, nil
}

// LastDrift returns the ids confirmed by the most recent sweep.
func (a *Auditor) LastDrift() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lastDrift...)
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

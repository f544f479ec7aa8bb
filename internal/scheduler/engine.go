package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sendlater/internal/domain"
	"sendlater/internal/metrics"
	"sendlater/internal/store"
	"sendlater/internal/timers"
)

// Notifier delivers a fired task. It is called at most once per task.
type Notifier interface {
	Notify(ctx context.Context, t domain.Task) error
}

// OverduePolicy decides what Schedule does with a fire time that already passed.
type OverduePolicy string

const (
	OverdueReject  OverduePolicy = "reject"
	OverdueFireNow OverduePolicy = "fire"
)

// RecoveryPolicy decides what Recover does with records whose fire time
// elapsed while the process was down.
type RecoveryPolicy string

const (
	RecoveryFireNow RecoveryPolicy = "fire"
	RecoveryDrop    RecoveryPolicy = "drop"
)

type Config struct {
	Overdue  OverduePolicy
	Recovery RecoveryPolicy
}

// Request carries the delivery parameters of a new task. They are forwarded
// to the notifier verbatim.
type Request struct {
	Recipient  string
	Subject    string
	Body       string
	Attachment *domain.Attachment
	FireAt     time.Time
}

// Engine owns the timer registry and keeps it consistent with the store:
// persist before arm on create, disarm before delete on cancel, and exactly
// one cleanup per fired task.
type Engine struct {
	config   Config
	store    store.Store
	notifier Notifier
	timers   *timers.Registry
	metrics  metrics.Sink
	log      zerolog.Logger

	clock func() time.Time
	newID func() string

	recovered atomic.Bool
	closed    atomic.Bool

	// mu orders fire starts against Close so inflight.Add never races Wait.
	mu       sync.Mutex
	inflight sync.WaitGroup
}

func New(config Config, st store.Store, n Notifier, sink metrics.Sink, logger zerolog.Logger) *Engine {
	if config.Overdue == "" {
		config.Overdue = OverdueReject
	}
	if config.Recovery == "" {
		config.Recovery = RecoveryFireNow
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Engine{
		config:   config,
		store:    st,
		notifier: n,
		timers:   timers.New(),
		metrics:  sink,
		log:      logger,
		clock:    time.Now,
		newID:    func() string { return "tsk_" + uuid.NewString() },
	}
}

// Schedule persists a new task and arms its timer. The id is returned only
// after both steps succeeded.
func (e *Engine) Schedule(ctx context.Context, req Request) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	if req.FireAt.IsZero() {
		return "", fmt.Errorf("%w: fire time is required", ErrInvalidSchedule)
	}
	now := e.clock()
	if !req.FireAt.After(now) && e.config.Overdue != OverdueFireNow {
		return "", fmt.Errorf("%w: fire time %s is not in the future", ErrInvalidSchedule, req.FireAt.Format(time.RFC3339))
	}

	t := domain.Task{
		ID:         e.newID(),
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Body:       req.Body,
		Attachment: req.Attachment,
		FireAt:     req.FireAt,
		CreatedAt:  now,
	}

	if err := e.store.Insert(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		return "", fmt.Errorf("persist task: %w", err)
	}

	if err := e.arm(t); err != nil {
		// Undo the insert so the next recovery does not resurrect a task the
		// caller was told failed.
		if derr := e.store.Delete(context.WithoutCancel(ctx), t.ID); derr != nil {
			e.log.Error().Err(derr).Str("task_id", t.ID).Msg("failed to roll back unarmed task")
		}
		return "", fmt.Errorf("arm task %s: %w", t.ID, err)
	}

	e.metrics.TaskScheduled()
	e.log.Info().
		Str("task_id", t.ID).
		Time("fire_at", t.FireAt).
		Msg("task scheduled")
	return t.ID, nil
}

// Cancel disarms the task and deletes its record. ErrTaskNotFound means the
// task can no longer be cancelled; it does not mean delivery completed.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if !e.timers.Disarm(id) {
		return ErrTaskNotFound
	}
	e.metrics.TimersArmed(e.timers.Len())

	// The timer is gone; the delete must not be abandoned with the request.
	ctx = context.WithoutCancel(ctx)
	err := e.store.Delete(ctx, id)
	if err != nil {
		e.log.Warn().Err(err).Str("task_id", id).Msg("delete of cancelled task failed, retrying")
		err = e.store.Delete(ctx, id)
	}
	if err != nil {
		e.log.Error().Err(err).Str("task_id", id).Msg("cancelled task still persisted, it will fire after restart")
		return fmt.Errorf("delete cancelled task %s: %w", id, err)
	}

	e.metrics.TaskCancelled()
	e.log.Info().Str("task_id", id).Msg("task cancelled")
	return nil
}

// Pending returns every persisted task that has not fired or been cancelled.
// Records that do not decode are logged and left out.
func (e *Engine) Pending(ctx context.Context) ([]domain.Task, error) {
	tasks, bad, err := e.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range bad {
		e.log.Warn().Err(rec.Err).Str("task_id", rec.ID).Msg("pending: unreadable record")
	}
	return tasks, nil
}

// Armed returns the number of live timer entries.
func (e *Engine) Armed() int { return e.timers.Len() }

// Close stops every pending timer and waits for fires already in progress.
// Stopped tasks stay persisted and are picked up by the next recovery.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed.Store(true)
	e.mu.Unlock()

	stopped := e.timers.StopAll()
	e.metrics.TimersArmed(e.timers.Len())
	e.log.Info().Int("stopped", stopped).Msg("pending timers stopped")

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight deliveries: %w", ctx.Err())
	}
}

func (e *Engine) arm(t domain.Task) error {
	if err := e.timers.Arm(t.ID, t.FireAt, func() { e.fire(t) }); err != nil {
		return err
	}
	e.metrics.TimersArmed(e.timers.Len())
	return nil
}

// fire runs on the timer goroutine after the registry handed it the task.
// Delivery is attempted once; the task is cleaned up whatever the outcome.
func (e *Engine) fire(t domain.Task) {
	e.mu.Lock()
	if e.closed.Load() {
		// Claimed after Close: leave the record for the next recovery.
		e.mu.Unlock()
		e.timers.Remove(t.ID)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	ctx := context.Background()

	start := time.Now()
	err := e.notify(ctx, t)
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.TaskFired(metrics.OutcomeFailed, elapsed)
		e.log.Error().
			Err(fmt.Errorf("%w: %w", ErrDeliveryFailed, err)).
			Str("task_id", t.ID).
			Dur("elapsed", elapsed).
			Msg("task fired, delivery failed")
	} else {
		e.metrics.TaskFired(metrics.OutcomeDelivered, elapsed)
		e.log.Info().
			Str("task_id", t.ID).
			Dur("elapsed", elapsed).
			Dur("lateness", start.Sub(t.FireAt)).
			Msg("task fired")
	}

	if err := e.store.Delete(ctx, t.ID); err != nil {
		e.log.Error().Err(err).Str("task_id", t.ID).Msg("fired task still persisted, it will fire again after restart")
	}
	e.timers.Remove(t.ID)
	e.metrics.TimersArmed(e.timers.Len())
}

func (e *Engine) notify(ctx context.Context, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return e.notifier.Notify(ctx, t)
}

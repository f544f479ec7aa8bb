package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendlater/internal/domain"
	"sendlater/internal/store"
)

// recordingNotifier tracks delivered tasks.
type recordingNotifier struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
	block chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, t domain.Task) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, t)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tasks)
}

func (n *recordingNotifier) delivered() []domain.Task {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Task(nil), n.tasks...)
}

type panicNotifier struct{ calls atomic.Int32 }

func (n *panicNotifier) Notify(context.Context, domain.Task) error {
	n.calls.Add(1)
	panic("smtp exploded")
}

// flakyStore wraps a Store and can fail specific operations.
type flakyStore struct {
	store.Store
	failLoad atomic.Bool
	// deleteFailures is the number of upcoming Delete calls that fail.
	deleteFailures atomic.Int32
	deletes        atomic.Int32
}

func (s *flakyStore) LoadAll(ctx context.Context) ([]domain.Task, []store.RecordError, error) {
	if s.failLoad.Load() {
		return nil, nil, errors.New("disk on fire")
	}
	return s.Store.LoadAll(ctx)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	s.deletes.Add(1)
	if s.deleteFailures.Add(-1) >= 0 {
		return errors.New("disk on fire")
	}
	return s.Store.Delete(ctx, id)
}

func newTestEngine(t *testing.T, st store.Store, n Notifier, cfg Config) *Engine {
	t.Helper()
	e := New(cfg, st, n, nil, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

func storedIDs(t *testing.T, st store.Store) []string {
	t.Helper()
	ids, err := st.LoadIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func request(fireAt time.Time) Request {
	return Request{Recipient: "alice@example.com", Subject: "Reminder", Body: "<p>pay rent</p>", FireAt: fireAt}
}

func TestEngine_CancelBeforeFire(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{})
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(2*time.Second)))
	require.NoError(t, err)
	assert.Contains(t, id, "tsk_")
	assert.Equal(t, []string{id}, storedIDs(t, st))
	assert.Equal(t, 1, e.Armed())

	require.NoError(t, e.Cancel(ctx, id))
	require.ErrorIs(t, e.Cancel(ctx, id), ErrTaskNotFound)

	assert.Empty(t, storedIDs(t, st))
	assert.Equal(t, 0, e.Armed())
	assert.Equal(t, 0, n.count())
}

func TestEngine_FiresOnceAndCleansUp(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{})
	ctx := context.Background()

	att := &domain.Attachment{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}
	req := request(time.Now().Add(100 * time.Millisecond))
	req.Attachment = att
	id, err := e.Schedule(ctx, req)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	require.Eventually(t, func() bool { return e.Armed() == 0 }, time.Second, 10*time.Millisecond)

	got := n.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "alice@example.com", got[0].Recipient)
	assert.Equal(t, "Reminder", got[0].Subject)
	assert.Equal(t, "<p>pay rent</p>", got[0].Body)
	assert.Equal(t, att, got[0].Attachment)

	assert.Empty(t, storedIDs(t, st))
	require.ErrorIs(t, e.Cancel(ctx, id), ErrTaskNotFound)
}

func TestEngine_SameFireTimeFiresIndependently(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{})
	ctx := context.Background()

	fireAt := time.Now().Add(50 * time.Millisecond)
	id1, err := e.Schedule(ctx, request(fireAt))
	require.NoError(t, err)
	id2, err := e.Schedule(ctx, request(fireAt))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	require.Eventually(t, func() bool { return n.count() == 2 && e.Armed() == 0 }, time.Second, 10*time.Millisecond)

	require.ErrorIs(t, e.Cancel(ctx, id1), ErrTaskNotFound)
	require.ErrorIs(t, e.Cancel(ctx, id2), ErrTaskNotFound)
	assert.Empty(t, storedIDs(t, st))
}

func TestEngine_ConcurrentCancelSucceedsOnce(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	e := newTestEngine(t, st, &recordingNotifier{}, Config{})
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	var ok, notFound atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := e.Cancel(ctx, id); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrTaskNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), notFound.Load())
	assert.Empty(t, storedIDs(t, st))
}

func TestEngine_CancelRacingFireObservesOneOutcome(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		st := store.NewMemory()
		n := &recordingNotifier{}
		e := New(Config{}, st, n, nil, zerolog.Nop())
		ctx := context.Background()

		id, err := e.Schedule(ctx, request(time.Now().Add(time.Millisecond)))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)

		cancelErr := e.Cancel(ctx, id)
		require.Eventually(t, func() bool { return e.Armed() == 0 }, time.Second, time.Millisecond)

		if cancelErr == nil {
			assert.Equal(t, 0, n.count(), "round %d", i)
		} else {
			require.ErrorIs(t, cancelErr, ErrTaskNotFound)
			assert.Equal(t, 1, n.count(), "round %d", i)
		}
		assert.Empty(t, storedIDs(t, st))
	}
}

func TestEngine_InvalidSchedule(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{Overdue: OverdueReject})
	ctx := context.Background()

	_, err := e.Schedule(ctx, request(time.Time{}))
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = e.Schedule(ctx, request(time.Now().Add(-time.Minute)))
	require.ErrorIs(t, err, ErrInvalidSchedule)

	assert.Empty(t, storedIDs(t, st))
	assert.Equal(t, 0, e.Armed())
}

func TestEngine_OverdueFireNow(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{Overdue: OverdueFireNow})

	_, err := e.Schedule(context.Background(), request(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return n.count() == 1 && e.Armed() == 0 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, storedIDs(t, st))
}

func TestEngine_DeliveryFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{err: errors.New("mailbox full")}
	e := newTestEngine(t, st, n, Config{})
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(20*time.Millisecond)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.Armed() == 0 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, n.count())
	assert.Empty(t, storedIDs(t, st))
	require.ErrorIs(t, e.Cancel(ctx, id), ErrTaskNotFound)
}

func TestEngine_NotifierPanicIsContained(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &panicNotifier{}
	e := newTestEngine(t, st, n, Config{})

	_, err := e.Schedule(context.Background(), request(time.Now().Add(10*time.Millisecond)))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.Armed() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), n.calls.Load())
	assert.Empty(t, storedIDs(t, st))
}

func TestEngine_ArmFailureRollsBackInsert(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	e := newTestEngine(t, st, &recordingNotifier{}, Config{})
	e.newID = func() string { return "tsk_fixed" }
	ctx := context.Background()

	_, err := e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	// Same id while the first record is stored: the insert itself collides.
	_, err = e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrDuplicateTask)

	// Record gone but timer still live: insert succeeds, arm collides and the
	// insert is undone.
	require.NoError(t, st.Delete(ctx, "tsk_fixed"))
	_, err = e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrDuplicateTask)
	assert.Empty(t, storedIDs(t, st))
	assert.Equal(t, 1, e.Armed())
}

func TestEngine_CancelReportsDeleteFailure(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: store.NewMemory()}
	n := &recordingNotifier{}
	e := newTestEngine(t, st, n, Config{})
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)

	st.deleteFailures.Store(2)
	err = e.Cancel(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaskNotFound)
	assert.Equal(t, int32(2), st.deletes.Load(), "delete is retried once")

	// The timer is disarmed regardless.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, n.count())
	assert.Equal(t, 0, e.Armed())
}

func TestEngine_CancelRetriesFailedDelete(t *testing.T) {
	t.Parallel()

	st := &flakyStore{Store: store.NewMemory()}
	e := newTestEngine(t, st, &recordingNotifier{}, Config{})
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	st.deleteFailures.Store(1)
	require.NoError(t, e.Cancel(ctx, id))
	assert.Equal(t, int32(2), st.deletes.Load())
	assert.Empty(t, storedIDs(t, st))
}

func TestEngine_FireAfterCloseLeavesRecord(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{}
	e := New(Config{}, st, n, nil, zerolog.Nop())
	ctx := context.Background()

	id, err := e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, e.Close(ctx))

	// A timer that claimed its entry just as Close ran.
	e.fire(domain.Task{ID: id, FireAt: time.Now()})
	assert.Equal(t, 0, n.count())
	assert.Equal(t, []string{id}, storedIDs(t, st))
}

func TestEngine_CloseWaitsForInFlightDelivery(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	n := &recordingNotifier{block: make(chan struct{})}
	e := New(Config{}, st, n, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := e.Schedule(ctx, request(time.Now().Add(10*time.Millisecond)))
	require.NoError(t, err)
	pendingID, err := e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	// Wait for the first task to be claimed by its timer.
	time.Sleep(50 * time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Close(short), context.DeadlineExceeded)

	close(n.block)
	require.NoError(t, e.Close(ctx))
	assert.Equal(t, 1, n.count())

	// The stopped task stays persisted for the next recovery.
	assert.Equal(t, []string{pendingID}, storedIDs(t, st))

	_, err = e.Schedule(ctx, request(time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngine_RestartWithSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	st, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	first := New(Config{}, st, &recordingNotifier{}, nil, zerolog.Nop())
	id, err := first.Schedule(ctx, request(time.Now().Add(5*time.Minute)))
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))
	require.NoError(t, st.Close())

	st, err = store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	n := &recordingNotifier{}
	second := newTestEngine(t, st, n, Config{})
	report, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Loaded: 1, Armed: 1}, report)

	require.NoError(t, second.Cancel(ctx, id))
	assert.Empty(t, storedIDs(t, st))
	assert.Equal(t, 0, n.count())
}

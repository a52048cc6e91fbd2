package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "chanpost/pkg/logx"

	"chanpost/internal/transport"
)

func testLogger() logx.Logger { return logx.Nop() }

// memStore is an in-memory Store with optional write-failure injection.
type memStore struct {
	mu      sync.Mutex
	snap    Snapshot
	failPut bool
	saves   int
}

var errInjected = errors.New("injected write failure")

func (s *memStore) SaveSchedule(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errInjected
	}
	s.snap = Snapshot{
		LastScheduledAt: snap.LastScheduledAt,
		NextID:          snap.NextID,
		Items:           append([]PendingItem(nil), snap.Items...),
	}
	s.saves++
	return nil
}

func (s *memStore) LoadSchedule(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastScheduledAt: s.snap.LastScheduledAt,
		NextID:          s.snap.NextID,
		Items:           append([]PendingItem(nil), s.snap.Items...),
	}, nil
}

func startEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	e := New(DefaultWindow(time.UTC), store, testLogger(), Options{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func testRef() transport.MediaRef {
	return transport.MediaRef{Kind: transport.MediaPhoto, FileID: "file-1"}
}

func submit(t *testing.T, e *Engine, now time.Time) Decision {
	t.Helper()
	dec, err := e.Submit(context.Background(), testRef(), 42, now)
	if err != nil {
		t.Fatalf("submit at %v: %v", now, err)
	}
	return dec
}

func TestSubmitIdleWithinWindowPublishesNow(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	now := at(t, time.UTC, 10, "23:50")
	dec := submit(t, e, now)
	if dec.Kind != PublishNow {
		t.Fatalf("decision = %v, want publish now", dec)
	}
	last, ok, err := e.LastScheduled(context.Background())
	if err != nil || !ok || !last.Equal(now) {
		t.Fatalf("last = %v, %v, %v; want %v", last, ok, err, now)
	}
}

func TestSubmitIdleDeadWindowSchedulesAtOpen(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	dec := submit(t, e, at(t, time.UTC, 10, "02:00"))
	if dec.Kind != PublishAt {
		t.Fatalf("decision = %v, want publish at", dec)
	}
	if want := at(t, time.UTC, 10, "06:00"); !dec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", dec.At, want)
	}
}

func TestSubmitActiveAppendsOneSlotAfterTail(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	// 23:45 idle: publishes now, last = 23:45.
	submit(t, e, at(t, time.UTC, 10, "23:45"))

	// One minute later the queue is active: exactly one slot after the
	// tail is 00:15 next day, still inside the window.
	dec := submit(t, e, at(t, time.UTC, 10, "23:46"))
	if dec.Kind != PublishAt {
		t.Fatalf("decision = %v, want publish at", dec)
	}
	if want := at(t, time.UTC, 11, "00:15"); !dec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", dec.At, want)
	}
}

func TestSubmitActiveCorrectsAcrossClose(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	// Seed last = 00:45 (idle submission just after midnight).
	submit(t, e, at(t, time.UTC, 11, "00:45"))

	// Naive target 01:15 is in the dead window; corrected to 06:00 of that
	// calendar day.
	dec := submit(t, e, at(t, time.UTC, 11, "00:46"))
	if want := at(t, time.UTC, 11, "06:00"); !dec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", dec.At, want)
	}
}

func TestBurstProducesEvenlySpacedSlots(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	now := at(t, time.UTC, 10, "12:00")
	prev := submit(t, e, now).At
	for i := 0; i < 10; i++ {
		dec := submit(t, e, now)
		gap := dec.At.Sub(prev)
		if gap < DefaultSlot {
			t.Fatalf("slot %d only %v after previous", i, gap)
		}
		if gap > DefaultSlot {
			// A jump is only legal when it lands exactly on the window open.
			if dec.At.Hour() != 6 || dec.At.Minute() != 0 {
				t.Fatalf("slot %d jumped %v to %v, not the window open", i, gap, dec.At)
			}
		}
		prev = dec.At
	}
}

func TestBurstAcrossCloseJumpsToOpen(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	now := at(t, time.UTC, 10, "23:55")
	decs := make([]Decision, 0, 5)
	for i := 0; i < 5; i++ {
		decs = append(decs, submit(t, e, now))
	}
	// 23:55 idle publishes now; followers march one slot at a time until
	// the naive target 01:25 lands in the dead window and jumps to 06:00.
	wants := []time.Time{
		at(t, time.UTC, 10, "23:55"),
		at(t, time.UTC, 11, "00:25"),
		at(t, time.UTC, 11, "00:55"),
		at(t, time.UTC, 11, "06:00"),
		at(t, time.UTC, 11, "06:30"),
	}
	for i, want := range wants {
		if !decs[i].At.Equal(want) {
			t.Fatalf("submission %d at %v, want %v", i, decs[i].At, want)
		}
	}
}

func TestConcurrentBurstDistinctSlots(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	e := startEngine(t, store)

	const k = 16
	now := at(t, time.UTC, 10, "12:00")
	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func() {
			defer wg.Done()
			_, _ = e.Submit(context.Background(), testRef(), 42, now)
		}()
	}
	wg.Wait()

	items, err := e.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != k {
		t.Fatalf("queue has %d items, want %d", len(items), k)
	}
	seen := map[int64]bool{}
	for i := 1; i < len(items); i++ {
		if !items[i-1].ScheduledAt.Before(items[i].ScheduledAt) {
			t.Fatalf("queue not strictly ascending at %d: %v then %v",
				i, items[i-1].ScheduledAt, items[i].ScheduledAt)
		}
	}
	for _, it := range items {
		if seen[it.ID] {
			t.Fatalf("duplicate item id %d", it.ID)
		}
		seen[it.ID] = true
	}
}

func TestPersistFailureRejectsSubmission(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	e := startEngine(t, store)

	submit(t, e, at(t, time.UTC, 10, "12:00"))

	store.mu.Lock()
	store.failPut = true
	store.mu.Unlock()

	_, err := e.Submit(context.Background(), testRef(), 42, at(t, time.UTC, 10, "12:01"))
	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistError", err)
	}

	// State must be untouched: still one item, last still 12:00.
	store.mu.Lock()
	store.failPut = false
	store.mu.Unlock()
	items, _ := e.Pending(context.Background())
	if len(items) != 1 {
		t.Fatalf("queue has %d items after failed persist, want 1", len(items))
	}
	last, _, _ := e.LastScheduled(context.Background())
	if want := at(t, time.UTC, 10, "12:00"); !last.Equal(want) {
		t.Fatalf("last = %v, want %v", last, want)
	}
}

func TestClockRegressionSchedulesAfterLast(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	submit(t, e, at(t, time.UTC, 10, "12:00"))

	// now runs 10 minutes behind the high-water mark; the engine must not
	// treat the queue as idle nor hand out a slot before 12:30.
	dec := submit(t, e, at(t, time.UTC, 10, "11:50"))
	if dec.Kind != PublishAt {
		t.Fatalf("decision = %v, want publish at", dec)
	}
	if want := at(t, time.UTC, 10, "12:30"); !dec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", dec.At, want)
	}
}

func TestRestartRecoverySchedulesRelativeToPersistedState(t *testing.T) {
	t.Parallel()
	store := &memStore{}

	e := startEngine(t, store)
	submit(t, e, at(t, time.UTC, 10, "12:00"))
	submit(t, e, at(t, time.UTC, 10, "12:00"))
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Fresh engine over the same store: the next submission within one
	// granularity of the persisted tail must append, not publish now.
	e2 := startEngine(t, store)
	dec := submit(t, e2, at(t, time.UTC, 10, "12:31"))
	if dec.Kind != PublishAt {
		t.Fatalf("decision = %v, want publish at", dec)
	}
	if want := at(t, time.UTC, 10, "13:00"); !dec.At.Equal(want) {
		t.Fatalf("At = %v, want %v", dec.At, want)
	}
	items, _ := e2.Pending(context.Background())
	if len(items) != 3 {
		t.Fatalf("queue has %d items after restart, want 3", len(items))
	}
}

func TestDueAckNack(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	now := at(t, time.UTC, 10, "12:00")
	submit(t, e, now) // due at 12:00
	submit(t, e, now) // due at 12:30

	due, err := e.Due(context.Background(), at(t, time.UTC, 10, "12:10"))
	if err != nil || len(due) != 1 {
		t.Fatalf("due = %v, %v; want 1 item", due, err)
	}

	n, err := e.Nack(context.Background(), due[0].ID)
	if err != nil || n != 1 {
		t.Fatalf("nack = %d, %v; want 1", n, err)
	}
	if err := e.Ack(context.Background(), due[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	items, _ := e.Pending(context.Background())
	if len(items) != 1 {
		t.Fatalf("queue has %d items after ack, want 1", len(items))
	}
	if err := e.Ack(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ack unknown = %v, want ErrNotFound", err)
	}
}

func TestCancelRemovesItem(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	submit(t, e, at(t, time.UTC, 10, "02:00"))
	items, _ := e.Pending(context.Background())
	if len(items) != 1 {
		t.Fatalf("queue has %d items, want 1", len(items))
	}
	if err := e.Cancel(context.Background(), items[0].ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	items, _ = e.Pending(context.Background())
	if len(items) != 0 {
		t.Fatalf("queue has %d items after cancel, want 0", len(items))
	}
}

func TestResetLastMakesNextSubmissionIdle(t *testing.T) {
	t.Parallel()
	e := startEngine(t, &memStore{})

	now := at(t, time.UTC, 10, "12:00")
	submit(t, e, now)
	if err := e.ResetLast(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := e.LastScheduled(context.Background()); ok {
		t.Fatal("last should be cleared after reset")
	}
	dec := submit(t, e, now.Add(time.Minute))
	if dec.Kind != PublishNow {
		t.Fatalf("decision = %v, want publish now after reset", dec)
	}
}

func TestPublishNowKicksDispatcher(t *testing.T) {
	t.Parallel()
	kicked := make(chan struct{}, 1)
	e := New(DefaultWindow(time.UTC), &memStore{}, testLogger(), Options{
		OnPublishNow: func() {
			select {
			case kicked <- struct{}{}:
			default:
			}
		},
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	submit(t, e, at(t, time.UTC, 10, "12:00"))
	select {
	case <-kicked:
	default:
		t.Fatal("publish-now did not kick the dispatcher")
	}
}

package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	logx "chanpost/pkg/logx"

	"chanpost/internal/transport"
)

// DefaultClockTolerance bounds how far `now` may lag behind the schedule
// high-water mark before the engine logs a clock regression.
const DefaultClockTolerance = 2 * time.Minute

// Options tune the engine.
type Options struct {
	// ClockTolerance for regression detection; 0 means DefaultClockTolerance.
	ClockTolerance time.Duration
	// OnPublishNow is invoked (from the worker) after a PUBLISH_NOW item is
	// committed, so the dispatcher can wake without waiting a tick. May be nil.
	OnPublishNow func()
}

// Engine assigns publish times. One worker goroutine owns all state;
// exported methods block until the worker has executed the request, which
// serializes concurrent submissions in arrival order.
type Engine struct {
	win   Window
	store Store
	log   logx.Logger
	opt   Options

	reqs     chan func()
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// Worker-owned. Never touched outside run().
	last   time.Time
	nextID int64
	queue  []PendingItem
}

func New(win Window, store Store, log logx.Logger, opt Options) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.ClockTolerance <= 0 {
		opt.ClockTolerance = DefaultClockTolerance
	}
	return &Engine{
		win:    win,
		store:  store,
		log:    log,
		opt:    opt,
		reqs:   make(chan func(), 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start restores persisted state and launches the worker.
func (e *Engine) Start(ctx context.Context) error {
	snap, err := e.store.LoadSchedule(ctx)
	if err != nil {
		return err
	}
	e.last = snap.LastScheduledAt
	e.nextID = snap.NextID
	e.queue = append([]PendingItem(nil), snap.Items...)
	sort.SliceStable(e.queue, func(i, j int) bool {
		return e.queue[i].ScheduledAt.Before(e.queue[j].ScheduledAt)
	})
	if e.nextID == 0 {
		e.nextID = 1
	}
	e.log.Info("schedule restored",
		logx.Int("pending", len(e.queue)),
		logx.Time("last_scheduled_at", e.last))

	go e.run()
	return nil
}

// Stop drains no further requests; pending callers get ErrStopped.
// Safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stopCh:
			return
		case fn := <-e.reqs:
			fn()
		}
	}
}

// call funnels fn into the worker and waits for it to finish.
func (e *Engine) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case e.reqs <- wrapped:
	case <-e.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted, the request runs to completion; don't abandon it
	// mid-decision on context cancellation.
	select {
	case <-ran:
		return nil
	case <-e.stopCh:
		return ErrStopped
	}
}

// Submit decides a publish time for content per the scheduling contract:
// an idle queue publishes now (or at the next slot when outside the
// window), an active queue appends one slot after the tail. The durable
// write happens before the decision is returned; a failed write returns a
// *PersistError and leaves state untouched.
func (e *Engine) Submit(ctx context.Context, content transport.MediaRef, by int64, now time.Time) (Decision, error) {
	var (
		dec  Decision
		rerr error
	)
	err := e.call(ctx, func() {
		dec, rerr = e.submitLocked(ctx, content, by, now)
	})
	if err != nil {
		return Decision{}, err
	}
	return dec, rerr
}

func (e *Engine) submitLocked(ctx context.Context, content transport.MediaRef, by int64, now time.Time) (Decision, error) {
	now = now.In(e.win.Loc)

	idle := e.last.IsZero() || now.Sub(e.last) > e.win.Slot
	if !e.last.IsZero() && now.Before(e.last.Add(-e.opt.ClockTolerance)) {
		// Clock regression: never trust a `now` behind the high-water mark;
		// schedule strictly after it instead.
		e.log.Warn("clock earlier than last scheduled time; scheduling after it",
			logx.Time("now", now),
			logx.Time("last_scheduled_at", e.last))
		idle = false
	}

	var dec Decision
	switch {
	case idle && e.win.Contains(now):
		dec = Decision{Kind: PublishNow, At: now}
	case idle:
		dec = Decision{Kind: PublishAt, At: e.win.NextSlot(now)}
	default:
		dec = Decision{Kind: PublishAt, At: e.win.NextSlot(e.last.Add(e.win.Slot))}
	}

	item := PendingItem{
		ID:          e.nextID,
		Content:     content,
		ScheduledAt: dec.At,
		SubmittedBy: by,
		SubmittedAt: now,
	}

	snap := e.snapshotWith(item, dec.At)
	if err := e.store.SaveSchedule(ctx, snap); err != nil {
		return Decision{}, &PersistError{Err: err}
	}

	// Commit.
	e.insert(item)
	e.nextID++
	if dec.At.After(e.last) {
		e.last = dec.At
	}

	e.log.Info("submission scheduled",
		logx.Int64("item", item.ID),
		logx.Int64("by", by),
		logx.String("decision", dec.String()))

	if dec.Kind == PublishNow && e.opt.OnPublishNow != nil {
		e.opt.OnPublishNow()
	}
	return dec, nil
}

// snapshotWith builds the durable image as it would look after committing
// item, without touching worker state.
func (e *Engine) snapshotWith(item PendingItem, at time.Time) Snapshot {
	last := e.last
	if at.After(last) {
		last = at
	}
	items := make([]PendingItem, 0, len(e.queue)+1)
	items = append(items, e.queue...)
	items = append(items, item)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
	return Snapshot{LastScheduledAt: last, NextID: e.nextID + 1, Items: items}
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		LastScheduledAt: e.last,
		NextID:          e.nextID,
		Items:           append([]PendingItem(nil), e.queue...),
	}
}

func (e *Engine) insert(item PendingItem) {
	i := sort.Search(len(e.queue), func(i int) bool {
		return e.queue[i].ScheduledAt.After(item.ScheduledAt)
	})
	e.queue = append(e.queue, PendingItem{})
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = item
}

// LastScheduled reports the high-water mark; ok is false when nothing has
// ever been scheduled (or after an explicit reset).
func (e *Engine) LastScheduled(ctx context.Context) (at time.Time, ok bool, err error) {
	err = e.call(ctx, func() {
		at, ok = e.last, !e.last.IsZero()
	})
	return at, ok, err
}

// Pending returns a copy of the queue in ascending ScheduledAt order.
func (e *Engine) Pending(ctx context.Context) ([]PendingItem, error) {
	var items []PendingItem
	err := e.call(ctx, func() {
		items = append([]PendingItem(nil), e.queue...)
	})
	return items, err
}

// Due returns copies of the items whose slot has arrived, ascending.
func (e *Engine) Due(ctx context.Context, now time.Time) ([]PendingItem, error) {
	var due []PendingItem
	err := e.call(ctx, func() {
		for _, it := range e.queue {
			if it.ScheduledAt.After(now) {
				break
			}
			due = append(due, it)
		}
	})
	return due, err
}

// Ack removes a published item and persists the shrunk queue.
func (e *Engine) Ack(ctx context.Context, id int64) error {
	var rerr error
	err := e.call(ctx, func() {
		rerr = e.removeLocked(ctx, id)
	})
	if err != nil {
		return err
	}
	return rerr
}

// Cancel removes a pending item on explicit administrative request.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	var rerr error
	err := e.call(ctx, func() {
		rerr = e.removeLocked(ctx, id)
	})
	if err != nil {
		return err
	}
	return rerr
}

func (e *Engine) removeLocked(ctx context.Context, id int64) error {
	idx := -1
	for i, it := range e.queue {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	items := make([]PendingItem, 0, len(e.queue)-1)
	items = append(items, e.queue[:idx]...)
	items = append(items, e.queue[idx+1:]...)
	snap := Snapshot{LastScheduledAt: e.last, NextID: e.nextID, Items: items}
	if err := e.store.SaveSchedule(ctx, snap); err != nil {
		return &PersistError{Err: err}
	}
	e.queue = items
	return nil
}

// Nack records a failed publish attempt and returns the consecutive
// failure count for the item.
func (e *Engine) Nack(ctx context.Context, id int64) (int, error) {
	var (
		attempts int
		rerr     error
	)
	err := e.call(ctx, func() {
		for i := range e.queue {
			if e.queue[i].ID == id {
				e.queue[i].Attempts++
				attempts = e.queue[i].Attempts
				// Best-effort durability for the counter; the queue itself
				// is unchanged, so a lost write only resets retry counting.
				if serr := e.store.SaveSchedule(ctx, e.snapshot()); serr != nil {
					e.log.Warn("persist of attempt counter failed", logx.Err(serr))
				}
				return
			}
		}
		rerr = ErrNotFound
	})
	if err != nil {
		return 0, err
	}
	return attempts, rerr
}

// ResetLast clears the high-water mark. Administrative action only: the
// next submission is treated as idle.
func (e *Engine) ResetLast(ctx context.Context) error {
	var rerr error
	err := e.call(ctx, func() {
		snap := e.snapshot()
		snap.LastScheduledAt = time.Time{}
		if serr := e.store.SaveSchedule(ctx, snap); serr != nil {
			rerr = &PersistError{Err: serr}
			return
		}
		e.last = time.Time{}
	})
	if err != nil {
		return err
	}
	return rerr
}

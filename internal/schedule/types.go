package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chanpost/internal/transport"
)

// DecisionKind says how a submission will be published.
type DecisionKind int

const (
	// PublishNow: the item goes out immediately.
	PublishNow DecisionKind = iota
	// PublishAt: the item waits for Decision.At.
	PublishAt
)

// Decision is the engine's answer to a submission.
type Decision struct {
	Kind DecisionKind
	At   time.Time
}

func (d Decision) String() string {
	if d.Kind == PublishNow {
		return "publish now"
	}
	return fmt.Sprintf("publish at %s", d.At.Format("2006-01-02 15:04 MST"))
}

// PendingItem is a submission waiting in the queue. It is owned by the
// engine worker until dispatched or cancelled.
type PendingItem struct {
	ID          int64              `json:"id"`
	Content     transport.MediaRef `json:"content"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	SubmittedBy int64              `json:"submitted_by"`
	SubmittedAt time.Time          `json:"submitted_at"`

	// Attempts counts consecutive failed publish attempts.
	Attempts int `json:"attempts,omitempty"`
}

// Snapshot is the durable image of the schedule: the high-water mark plus
// the pending queue in ascending ScheduledAt order. It must round-trip
// exactly through the configured store.
type Snapshot struct {
	LastScheduledAt time.Time     `json:"last_scheduled_at"`
	NextID          int64         `json:"next_id"`
	Items           []PendingItem `json:"items"`
}

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	SaveSchedule(ctx context.Context, snap Snapshot) error
	LoadSchedule(ctx context.Context) (Snapshot, error)
}

var (
	// ErrStopped is returned for operations against a stopped engine.
	ErrStopped = errors.New("schedule: engine stopped")
	// ErrNotFound is returned when an item id is not in the queue.
	ErrNotFound = errors.New("schedule: item not found")
)

// PersistError wraps a failed durable write. The submission it belongs to
// was NOT acknowledged and in-memory state was not changed.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return "schedule: persist failed: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

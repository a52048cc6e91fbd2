package storage

import (
	"context"
	"time"

	"chanpost/internal/schedule"
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (atomic JSON snapshot)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Admin is a persisted operator authorization record.
type Admin struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Store is the persistence API used by the engine and the admin registry.
//
// SaveSchedule must be durable before returning: a crash right after a
// scheduling decision is acknowledged must not lose or duplicate the slot
// assignment on restart.
type Store interface {
	schedule.Store

	PutAdmin(ctx context.Context, a Admin) error
	DeleteAdmin(ctx context.Context, id int64) error
	ListAdmins(ctx context.Context) ([]Admin, error)

	Close() error
}

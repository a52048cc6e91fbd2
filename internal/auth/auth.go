// Package auth keeps the operator authorization list: the main admin from
// config plus a persisted set managed at runtime.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logx "chanpost/pkg/logx"

	"chanpost/internal/storage"
)

var ErrMainAdmin = errors.New("auth: the main admin cannot be removed")

// Registry answers "is user X an admin". Reads hit an in-memory cache;
// mutations write through to the store.
type Registry struct {
	mainAdmin int64
	store     storage.Store
	log       logx.Logger

	mu     sync.RWMutex
	admins map[int64]string
}

func NewRegistry(mainAdmin int64, store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		mainAdmin: mainAdmin,
		store:     store,
		log:       log,
		admins:    map[int64]string{},
	}
}

// Load populates the cache from the store.
func (r *Registry) Load(ctx context.Context) error {
	admins, err := r.store.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("auth: load admins: %w", err)
	}
	r.mu.Lock()
	r.admins = make(map[int64]string, len(admins))
	for _, a := range admins {
		r.admins[a.ID] = a.Username
	}
	r.mu.Unlock()
	r.log.Info("admin list loaded", logx.Int("count", len(admins)))
	return nil
}

// IsAdmin reports whether id may submit and manage posts.
func (r *Registry) IsAdmin(id int64) bool {
	if id == r.mainAdmin {
		return true
	}
	r.mu.RLock()
	_, ok := r.admins[id]
	r.mu.RUnlock()
	return ok
}

// IsMainAdmin reports whether id is the configured owner.
func (r *Registry) IsMainAdmin(id int64) bool { return id == r.mainAdmin && id != 0 }

func (r *Registry) Add(ctx context.Context, id int64, username string) error {
	if err := r.store.PutAdmin(ctx, storage.Admin{ID: id, Username: username}); err != nil {
		return fmt.Errorf("auth: add admin: %w", err)
	}
	r.mu.Lock()
	r.admins[id] = username
	r.mu.Unlock()
	r.log.Info("admin added", logx.Int64("id", id), logx.String("username", username))
	return nil
}

func (r *Registry) Remove(ctx context.Context, id int64) error {
	if id == r.mainAdmin {
		return ErrMainAdmin
	}
	if err := r.store.DeleteAdmin(ctx, id); err != nil {
		return fmt.Errorf("auth: remove admin: %w", err)
	}
	r.mu.Lock()
	delete(r.admins, id)
	r.mu.Unlock()
	r.log.Info("admin removed", logx.Int64("id", id))
	return nil
}

// List returns all persisted admins (the main admin is implicit and not
// included unless explicitly added).
func (r *Registry) List(ctx context.Context) ([]storage.Admin, error) {
	return r.store.ListAdmins(ctx)
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "chanpost/pkg/logx"

	"chanpost/internal/schedule"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.schedule.json (schedule state + pending queue)
//   - <prefix>.admins.json   (authorized operators)
//
// Every write replaces the whole file via rename, so a crash mid-write
// leaves the previous state intact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	schedulePath string
	adminsPath   string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		schedulePath: prefix + ".schedule.json",
		adminsPath:   prefix + ".admins.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveSchedule(ctx context.Context, snap schedule.Snapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.schedulePath, snap)
}

func (s *fileStore) LoadSchedule(ctx context.Context) (schedule.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap schedule.Snapshot
	b, err := os.ReadFile(s.schedulePath)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return schedule.Snapshot{}, err
	}
	return snap, nil
}

func (s *fileStore) PutAdmin(ctx context.Context, a Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	admins, err := s.readAdminsLocked()
	if err != nil {
		return err
	}
	for i := range admins {
		if admins[i].ID == a.ID {
			admins[i] = a
			return writeFileAtomic(s.adminsPath, admins)
		}
	}
	admins = append(admins, a)
	return writeFileAtomic(s.adminsPath, admins)
}

func (s *fileStore) DeleteAdmin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	admins, err := s.readAdminsLocked()
	if err != nil {
		return err
	}
	kept := admins[:0]
	for _, a := range admins {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	return writeFileAtomic(s.adminsPath, kept)
}

func (s *fileStore) ListAdmins(ctx context.Context) ([]Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAdminsLocked()
}

func (s *fileStore) readAdminsLocked() ([]Admin, error) {
	b, err := os.ReadFile(s.adminsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var admins []Admin
	if err := json.Unmarshal(b, &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

// writeFileAtomic writes v as JSON to a temp file, fsyncs, then renames
// over path.
func writeFileAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

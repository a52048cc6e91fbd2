package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "chanpost/pkg/logx"

	"chanpost/internal/schedule"
	"chanpost/internal/transport"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSchedule replaces the whole durable image in one transaction.
func (s *sqliteStore) SaveSchedule(ctx context.Context, snap schedule.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schedule_state(id, last_scheduled_at, next_id) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET last_scheduled_at=excluded.last_scheduled_at, next_id=excluded.next_id`,
		nullTime(snap.LastScheduledAt), snap.NextID,
	)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_items`); err != nil {
		return err
	}
	for _, it := range snap.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pending_items(id, kind, file_id, caption, scheduled_at, submitted_by, submitted_at, attempts)
			 VALUES(?,?,?,?,?,?,?,?)`,
			it.ID, string(it.Content.Kind), it.Content.FileID, nullStr(it.Content.Caption),
			it.ScheduledAt.Format(time.RFC3339Nano), it.SubmittedBy,
			it.SubmittedAt.Format(time.RFC3339Nano), it.Attempts,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSchedule(ctx context.Context) (schedule.Snapshot, error) {
	var snap schedule.Snapshot

	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_scheduled_at, next_id FROM schedule_state WHERE id = 1`,
	).Scan(&last, &snap.NextID)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if last.Valid {
		t, err := time.Parse(time.RFC3339Nano, last.String)
		if err != nil {
			return snap, fmt.Errorf("bad last_scheduled_at: %w", err)
		}
		snap.LastScheduledAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, file_id, caption, scheduled_at, submitted_by, submitted_at, attempts
		 FROM pending_items ORDER BY scheduled_at ASC`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      schedule.PendingItem
			kind    string
			caption sql.NullString
			schedAt string
			subAt   string
		)
		if err := rows.Scan(&it.ID, &kind, &it.Content.FileID, &caption, &schedAt, &it.SubmittedBy, &subAt, &it.Attempts); err != nil {
			return snap, err
		}
		it.Content.Kind = transport.MediaKind(kind)
		it.Content.Caption = caption.String
		if it.ScheduledAt, err = time.Parse(time.RFC3339Nano, schedAt); err != nil {
			return snap, fmt.Errorf("bad scheduled_at: %w", err)
		}
		if it.SubmittedAt, err = time.Parse(time.RFC3339Nano, subAt); err != nil {
			return snap, fmt.Errorf("bad submitted_at: %w", err)
		}
		snap.Items = append(snap.Items, it)
	}
	return snap, rows.Err()
}

func (s *sqliteStore) PutAdmin(ctx context.Context, a Admin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins(id, username) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username`,
		a.ID, nullStr(a.Username),
	)
	return err
}

func (s *sqliteStore) DeleteAdmin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListAdmins(ctx context.Context) ([]Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username FROM admins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []Admin
	for rows.Next() {
		var (
			a        Admin
			username sql.NullString
		)
		if err := rows.Scan(&a.ID, &username); err != nil {
			return nil, err
		}
		a.Username = username.String
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

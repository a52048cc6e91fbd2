package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "chanpost/pkg/logx"

	"chanpost/internal/schedule"
	"chanpost/internal/transport"
)

func testSnapshot() schedule.Snapshot {
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	return schedule.Snapshot{
		LastScheduledAt: base.Add(time.Hour),
		NextID:          3,
		Items: []schedule.PendingItem{
			{
				ID:          1,
				Content:     transport.MediaRef{Kind: transport.MediaPhoto, FileID: "ph-1", Caption: "hello"},
				ScheduledAt: base.Add(30 * time.Minute),
				SubmittedBy: 42,
				SubmittedAt: base,
			},
			{
				ID:          2,
				Content:     transport.MediaRef{Kind: transport.MediaVideo, FileID: "vid-2"},
				ScheduledAt: base.Add(time.Hour),
				SubmittedBy: 42,
				SubmittedAt: base,
				Attempts:    2,
			},
		},
	}
}

func checkRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	// Empty store loads an empty snapshot, not an error.
	snap, err := st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if !snap.LastScheduledAt.IsZero() || len(snap.Items) != 0 {
		t.Fatalf("empty store returned %+v", snap)
	}

	want := testSnapshot()
	if err := st.SaveSchedule(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !got.LastScheduledAt.Equal(want.LastScheduledAt) {
		t.Fatalf("last = %v, want %v", got.LastScheduledAt, want.LastScheduledAt)
	}
	if got.NextID != want.NextID {
		t.Fatalf("next id = %d, want %d", got.NextID, want.NextID)
	}
	if len(got.Items) != len(want.Items) {
		t.Fatalf("items = %d, want %d", len(got.Items), len(want.Items))
	}
	for i := range want.Items {
		w, g := want.Items[i], got.Items[i]
		if g.ID != w.ID || g.Content != w.Content || g.SubmittedBy != w.SubmittedBy || g.Attempts != w.Attempts {
			t.Fatalf("item %d = %+v, want %+v", i, g, w)
		}
		if !g.ScheduledAt.Equal(w.ScheduledAt) || !g.SubmittedAt.Equal(w.SubmittedAt) {
			t.Fatalf("item %d times = %v/%v, want %v/%v", i, g.ScheduledAt, g.SubmittedAt, w.ScheduledAt, w.SubmittedAt)
		}
	}

	// A second save fully replaces the first.
	want.Items = want.Items[:1]
	if err := st.SaveSchedule(ctx, want); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, err = st.LoadSchedule(ctx)
	if err != nil || len(got.Items) != 1 {
		t.Fatalf("after re-save: %d items, %v; want 1", len(got.Items), err)
	}
}

func checkAdmins(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if err := st.PutAdmin(ctx, Admin{ID: 7, Username: "alice"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.PutAdmin(ctx, Admin{ID: 8}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Upsert updates in place.
	if err := st.PutAdmin(ctx, Admin{ID: 7, Username: "alice2"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	admins, err := st.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("got %d admins, want 2", len(admins))
	}
	byID := map[int64]string{}
	for _, a := range admins {
		byID[a.ID] = a.Username
	}
	if byID[7] != "alice2" || byID[8] != "" {
		t.Fatalf("admins = %v", byID)
	}

	if err := st.DeleteAdmin(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	admins, _ = st.ListAdmins(ctx)
	if len(admins) != 1 || admins[0].ID != 8 {
		t.Fatalf("after delete: %v", admins)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	checkRoundTrip(t, st)
	checkAdmins(t, st)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	checkRoundTrip(t, st)
	checkAdmins(t, st)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop()) // empty driver defaults to file
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := testSnapshot()
	if err := st.SaveSchedule(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = st.Close()

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if len(got.Items) != 2 || !got.LastScheduledAt.Equal(want.LastScheduledAt) {
		t.Fatalf("after reopen: %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

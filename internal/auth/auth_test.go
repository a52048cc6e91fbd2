package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "chanpost/pkg/logx"

	"chanpost/internal/storage"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	r := NewRegistry(100, st, logx.Nop())
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func TestMainAdminAlwaysAuthorized(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	if !r.IsAdmin(100) || !r.IsMainAdmin(100) {
		t.Fatal("main admin must be authorized")
	}
	if r.IsAdmin(200) || r.IsMainAdmin(200) {
		t.Fatal("unknown user must not be authorized")
	}
}

func TestAddRemove(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	ctx := context.Background()

	if err := r.Add(ctx, 200, "bob"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !r.IsAdmin(200) {
		t.Fatal("added admin must be authorized")
	}
	if r.IsMainAdmin(200) {
		t.Fatal("regular admin is not the main admin")
	}

	if err := r.Remove(ctx, 200); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.IsAdmin(200) {
		t.Fatal("removed admin must not be authorized")
	}
}

func TestMainAdminCannotBeRemoved(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	if err := r.Remove(context.Background(), 100); !errors.Is(err, ErrMainAdmin) {
		t.Fatalf("got %v, want ErrMainAdmin", err)
	}
}

func TestLoadSurvivesRestart(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	r := NewRegistry(100, st, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Add(ctx, 300, "carol"); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A fresh registry over the same store sees the persisted admin.
	r2 := NewRegistry(100, st, logx.Nop())
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !r2.IsAdmin(300) {
		t.Fatal("persisted admin lost across restart")
	}
}

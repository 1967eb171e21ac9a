//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreFitRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "xspecfit.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	for i, id := range []string{"a", "b"} {
		if err := store.SaveFitRun(ctx, testRun(id, time.Unix(int64(100+i), 0))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	updated := testRun("a", time.Unix(100, 0))
	updated.Status = "pegged"
	if err := store.SaveFitRun(ctx, updated); err != nil {
		t.Fatalf("update a: %v", err)
	}

	run, ok, err := store.GetFitRun(ctx, "a")
	if err != nil {
		t.Fatalf("get fit run: %v", err)
	}
	if !ok {
		t.Fatal("expected fit run a")
	}
	if run.Status != "pegged" || len(run.History) != 3 {
		t.Fatalf("unexpected fit run loaded: %+v", run)
	}

	list, err := store.ListFitRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	deleted, err := store.DeleteFitRun(ctx, "a")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := store.GetFitRun(ctx, "a"); err != nil || ok {
		t.Fatalf("expected deleted run, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "xspecfit.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SaveFitRun(ctx, testRun("persisted", time.Unix(5, 0))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = CloseIfSupported(second) })
	if _, ok, err := second.GetFitRun(ctx, "persisted"); err != nil || !ok {
		t.Fatalf("expected persisted run, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	if _, err := store.ListFitRuns(context.Background()); err == nil {
		t.Fatal("expected uninitialized store error")
	}
}

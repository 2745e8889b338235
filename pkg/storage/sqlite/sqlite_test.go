package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhollis/albd/pkg/core"
	"github.com/rhollis/albd/pkg/jobs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "albums.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestCollectionMutations(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	vacation, err := store.CreateAlbum(ctx, "Vacation", 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	europe, err := store.CreateAlbum(ctx, "Europe", 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetParent(ctx, europe.ID, vacation.ID); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := store.Share(ctx, europe.ID, "friend@example.com", "pk", core.RoleViewer); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := store.SetVisibility(ctx, vacation.ID, core.VisibilityArchived); err != nil {
		t.Fatalf("set visibility: %v", err)
	}

	cols, err := store.Collections(ctx)
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(cols))
	}
	byID := make(map[int64]core.Collection)
	for _, c := range cols {
		byID[c.ID] = c
	}
	if byID[europe.ID].ParentID != vacation.ID {
		t.Fatalf("europe parent %d, want %d", byID[europe.ID].ParentID, vacation.ID)
	}
	if got := byID[europe.ID].Sharees; len(got) != 1 || got[0].Email != "friend@example.com" {
		t.Fatalf("sharees %+v", got)
	}
	if byID[vacation.ID].Visibility != core.VisibilityArchived {
		t.Fatalf("visibility %d", byID[vacation.ID].Visibility)
	}

	t.Run("unshare is ensure-unshared", func(t *testing.T) {
		if err := store.Unshare(ctx, europe.ID, "friend@example.com"); err != nil {
			t.Fatalf("unshare: %v", err)
		}
		if err := store.Unshare(ctx, europe.ID, "friend@example.com"); err != nil {
			t.Fatalf("repeated unshare must succeed: %v", err)
		}
	})

	t.Run("missing ids surface not found", func(t *testing.T) {
		if err := store.SetParent(ctx, 999, 0); !errors.Is(err, core.ErrCollectionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := store.Delete(ctx, 999, false); !errors.Is(err, core.ErrCollectionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, europe.ID, true); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := store.Delete(ctx, europe.ID, true); !errors.Is(err, core.ErrCollectionNotFound) {
			t.Fatalf("second delete must report not found, got %v", err)
		}
	})
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	job := &jobs.Job{
		ID:         "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Type:       jobs.TypeCascadeHide,
		Target:     1,
		Params:     jobs.VisibilityParams{Visibility: core.VisibilityHidden},
		CreatedAt:  time.Now().Truncate(time.Millisecond),
		Status:     jobs.StatusPending,
		WorkingSet: []int64{1, 2, 3},
		Progress:   jobs.Progress{Total: 3},
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put: %v", err)
	}

	job.Status = jobs.StatusRunning
	job.Done = []int64{1}
	job.Progress.Succeeded = 1
	job.Rollback = jobs.VisibilityRollback{Previous: map[int64]core.Visibility{
		1: core.VisibilityVisible,
		2: core.VisibilityArchived,
	}}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 job, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Status != jobs.StatusRunning || len(got.Done) != 1 {
		t.Fatalf("loaded %+v", got)
	}
	params, ok := got.Params.(jobs.VisibilityParams)
	if !ok || params.Visibility != core.VisibilityHidden {
		t.Fatalf("params %+v", got.Params)
	}
	rollback, ok := got.Rollback.(jobs.VisibilityRollback)
	if !ok || rollback.Previous[2] != core.VisibilityArchived {
		t.Fatalf("rollback %+v", got.Rollback)
	}
}

func TestCorruptJobRecordDropped(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	good := &jobs.Job{
		ID:         "11111111-2222-3333-4444-555555555555",
		Type:       jobs.TypeSubtreeDelete,
		Target:     1,
		Params:     jobs.DeleteParams{},
		CreatedAt:  time.Now(),
		Status:     jobs.StatusPending,
		WorkingSet: []int64{1},
		Progress:   jobs.Progress{Total: 1},
	}
	if err := store.PutJob(ctx, good); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO jobs(id, created_at, status, payload) VALUES('broken', 0, 'pending', 'not json')`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	loaded, err := store.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != good.ID {
		t.Fatalf("expected only the intact record, got %d", len(loaded))
	}

	var remaining int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("corrupt record must be deleted, %d rows remain", remaining)
	}
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	job := &jobs.Job{
		ID:         "99999999-8888-7777-6666-555555555555",
		Type:       jobs.TypeMove,
		Target:     1,
		Params:     jobs.MoveParams{NewParentID: 2},
		CreatedAt:  time.Now(),
		Status:     jobs.StatusCompleted,
		WorkingSet: []int64{1},
	}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err := store.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty job log, got %d", len(loaded))
	}
}

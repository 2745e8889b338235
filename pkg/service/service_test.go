package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rhollis/albd/pkg/core"
)

type fakeSource struct {
	cols  []core.Collection
	loads int
}

func (f *fakeSource) Collections(ctx context.Context) ([]core.Collection, error) {
	f.loads++
	out := make([]core.Collection, len(f.cols))
	copy(out, f.cols)
	return out, nil
}

type fakeMutator struct {
	setParentCalls [][2]int64
	failSetParent  error
}

func (f *fakeMutator) SetParent(ctx context.Context, id, parentID int64) error {
	if f.failSetParent != nil {
		return f.failSetParent
	}
	f.setParentCalls = append(f.setParentCalls, [2]int64{id, parentID})
	return nil
}

func (f *fakeMutator) CreateAlbum(ctx context.Context, name string, ownerID int64) (core.Collection, error) {
	return core.Collection{}, errors.New("not implemented")
}

func (f *fakeMutator) Share(ctx context.Context, id int64, email, publicKey string, role core.ShareRole) error {
	return nil
}

func (f *fakeMutator) Unshare(ctx context.Context, id int64, email string) error { return nil }

func (f *fakeMutator) SetVisibility(ctx context.Context, id int64, v core.Visibility) error {
	return nil
}

func (f *fakeMutator) Delete(ctx context.Context, id int64, keepPhotos bool) error { return nil }

func newTestService() (*TreeService, *fakeSource, *fakeMutator) {
	src := &fakeSource{cols: []core.Collection{
		{ID: 1, Name: "Vacation", OwnerID: 7},
		{ID: 2, ParentID: 1, Name: "Europe", OwnerID: 7},
		{ID: 3, ParentID: 2, Name: "Paris", OwnerID: 7},
	}}
	mut := &fakeMutator{}
	return New(src, mut, 7), src, mut
}

func TestGetTreeCaching(t *testing.T) {
	ctx := context.Background()
	svc, src, _ := newTestService()

	first, err := svc.GetTree(ctx, false)
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}
	second, _ := svc.GetTree(ctx, false)
	if first != second {
		t.Fatal("cached snapshot must be reused")
	}
	if src.loads != 1 {
		t.Fatalf("source loaded %d times, want 1", src.loads)
	}
	third, _ := svc.GetTree(ctx, true)
	if third == first {
		t.Fatal("forceRefresh must rebuild")
	}
	if src.loads != 2 {
		t.Fatalf("source loaded %d times, want 2", src.loads)
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	crumbs, err := svc.GetBreadcrumbs(ctx, 3)
	if err != nil {
		t.Fatalf("breadcrumbs: %v", err)
	}
	if len(crumbs) != 3 || crumbs[0] != "Vacation" || crumbs[2] != "Paris" {
		t.Fatalf("breadcrumbs %v", crumbs)
	}

	anc, err := svc.GetAncestors(ctx, 3)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(anc) != 2 || anc[0].ID != 2 || anc[1].ID != 1 {
		t.Fatalf("ancestors %v", anc)
	}

	if depth, _ := svc.GetDepth(ctx, 3); depth != 2 {
		t.Fatalf("depth %d, want 2", depth)
	}

	kids, _ := svc.GetChildren(ctx, 1)
	if len(kids) != 1 || kids[0].ID != 2 {
		t.Fatalf("children %v", kids)
	}

	if _, err := svc.GetPath(ctx, 42); !errors.Is(err, core.ErrCollectionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMoveCollectionRejectsCycle(t *testing.T) {
	ctx := context.Background()
	svc, _, mut := newTestService()

	res, err := svc.MoveCollection(ctx, 2, 3)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Valid || !errors.Is(res.Err, core.ErrCycleDetected) {
		t.Fatalf("expected cycle rejection, got %+v", res)
	}
	if len(mut.setParentCalls) != 0 {
		t.Fatal("no mutation may be attempted after failed validation")
	}
}

func TestMoveCollectionMutatesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	svc, src, mut := newTestService()

	res, err := svc.MoveCollection(ctx, 3, 1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid move, got %+v", res)
	}
	if len(mut.setParentCalls) != 1 || mut.setParentCalls[0] != [2]int64{3, 1} {
		t.Fatalf("setParent calls %v", mut.setParentCalls)
	}

	// Cache was invalidated, so the next query rebuilds from the source.
	src.cols[2].ParentID = 1
	loads := src.loads
	if _, err := svc.GetDepth(ctx, 3); err != nil {
		t.Fatalf("depth after move: %v", err)
	}
	if src.loads != loads+1 {
		t.Fatal("expected rebuild after successful move")
	}
}

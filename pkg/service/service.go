// Package service owns the cached collection tree snapshot and the query
// surface consumers use. The snapshot is immutable: readers share it without
// locking, a rebuild swaps in a fresh one under the write lock.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rhollis/albd/pkg/core"
)

// TreeService builds and caches the collection forest and validates the
// single direct mutation path, MoveCollection. Cascading mutations go
// through the job engine instead.
type TreeService struct {
	source  core.Source
	mutator core.Mutator
	userID  int64

	mu   sync.RWMutex
	tree *core.Tree
}

// New constructs a TreeService for the given user.
func New(source core.Source, mutator core.Mutator, userID int64) *TreeService {
	return &TreeService{source: source, mutator: mutator, userID: userID}
}

// UserID returns the user all validations run as.
func (s *TreeService) UserID() int64 {
	return s.userID
}

// GetTree returns the cached snapshot, rebuilding from the flat collection
// list when forceRefresh is set or nothing is cached yet.
func (s *TreeService) GetTree(ctx context.Context, forceRefresh bool) (*core.Tree, error) {
	if !forceRefresh {
		s.mu.RLock()
		tree := s.tree
		s.mu.RUnlock()
		if tree != nil {
			return tree, nil
		}
	}
	cols, err := s.source.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	tree := core.BuildTree(cols)
	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	return tree, nil
}

// Invalidate drops the cached snapshot so the next query rebuilds.
func (s *TreeService) Invalidate() {
	s.mu.Lock()
	s.tree = nil
	s.mu.Unlock()
}

// GetChildren returns the direct children of id.
func (s *TreeService) GetChildren(ctx context.Context, id int64) ([]core.Collection, error) {
	node, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]core.Collection, 0, len(node.Children))
	for _, child := range node.Children {
		out = append(out, child.Collection)
	}
	return out, nil
}

// GetDescendants returns every collection strictly below id, depth-first.
func (s *TreeService) GetDescendants(ctx context.Context, id int64) ([]core.Collection, error) {
	node, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	desc := node.Descendants()
	out := make([]core.Collection, 0, len(desc))
	for _, d := range desc {
		out = append(out, d.Collection)
	}
	return out, nil
}

// GetAncestors returns the collections above id, nearest first.
func (s *TreeService) GetAncestors(ctx context.Context, id int64) ([]core.Collection, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return nil, err
	}
	node, ok := tree.GetNode(id)
	if !ok {
		return nil, fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	var out []core.Collection
	for cur := tree.Parent(node); cur != nil; cur = tree.Parent(cur) {
		out = append(out, cur.Collection)
	}
	return out, nil
}

// GetPath returns the collections from a root down to id inclusive.
func (s *TreeService) GetPath(ctx context.Context, id int64) ([]core.Collection, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return nil, err
	}
	path, ok := tree.Path(id)
	if !ok {
		return nil, fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	return path, nil
}

// GetBreadcrumbs returns the display names along GetPath, root first.
func (s *TreeService) GetBreadcrumbs(ctx context.Context, id int64) ([]string, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return nil, err
	}
	crumbs, ok := tree.Breadcrumbs(id)
	if !ok {
		return nil, fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	return crumbs, nil
}

// GetDepth returns the recorded depth of id, zero for roots.
func (s *TreeService) GetDepth(ctx context.Context, id int64) (int, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return 0, err
	}
	depth, ok := tree.DepthOf(id)
	if !ok {
		return 0, fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	return depth, nil
}

// MoveCollection validates a reparent against the current snapshot and, when
// valid, issues the single SetParent mutation. The returned Result carries a
// non-fatal warning when a shared album is involved. The cached snapshot is
// invalidated after a successful mutation.
func (s *TreeService) MoveCollection(ctx context.Context, childID, newParentID int64) (core.Result, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return core.Result{}, err
	}
	res := core.ValidateSetParent(tree, childID, newParentID, s.userID)
	if !res.Valid {
		return res, nil
	}
	if err := s.mutator.SetParent(ctx, childID, newParentID); err != nil {
		return res, fmt.Errorf("set parent: %w", err)
	}
	s.Invalidate()
	return res, nil
}

func (s *TreeService) lookup(ctx context.Context, id int64) (*core.TreeNode, error) {
	tree, err := s.GetTree(ctx, false)
	if err != nil {
		return nil, err
	}
	node, ok := tree.GetNode(id)
	if !ok {
		return nil, fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	return node, nil
}

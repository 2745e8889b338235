package core

import (
	"context"
	"errors"
)

// Visibility states a collection can be in. Values are stable and persisted.
type Visibility int

const (
	VisibilityVisible  Visibility = 0
	VisibilityArchived Visibility = 1
	VisibilityHidden   Visibility = 2
)

// ShareRole describes what a sharee may do with a collection.
type ShareRole string

const (
	RoleViewer       ShareRole = "viewer"
	RoleCollaborator ShareRole = "collaborator"
)

// Sharee is a user a collection has been shared with.
type Sharee struct {
	Email     string    `json:"email"`
	Role      ShareRole `json:"role"`
	PublicKey string    `json:"publicKey,omitempty"`
}

// Collection is one album. ParentID is the single source of truth for
// hierarchy; zero means root-level.
type Collection struct {
	ID         int64      `json:"id"`
	ParentID   int64      `json:"parentId,omitempty"`
	Name       string     `json:"name"`
	OwnerID    int64      `json:"ownerId"`
	Sharees    []Sharee   `json:"sharees,omitempty"`
	Visibility Visibility `json:"visibility"`
	UpdatedAt  int64      `json:"updatedAt"`
}

// IsShared reports whether the collection is shared with anyone.
func (c Collection) IsShared() bool {
	return len(c.Sharees) > 0
}

var (
	// ErrCollectionNotFound indicates the referenced collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCycleDetected indicates a reparent that would introduce a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrDepthExceeded indicates a reparent that would exceed the nesting bound.
	ErrDepthExceeded = errors.New("maximum nesting depth exceeded")
	// ErrNotOwner indicates the current user does not own both ends of a move.
	ErrNotOwner = errors.New("not the owner")
)

// Source supplies the current flat collection list the tree is built from.
type Source interface {
	Collections(ctx context.Context) ([]Collection, error)
}

// Mutator is the external mutation API. Every call is designed idempotent:
// "set parent to X" and "ensure unshared" can be replayed safely, and callers
// that replay Delete must treat ErrCollectionNotFound as success.
type Mutator interface {
	SetParent(ctx context.Context, id, parentID int64) error
	CreateAlbum(ctx context.Context, name string, ownerID int64) (Collection, error)
	Share(ctx context.Context, id int64, email, publicKey string, role ShareRole) error
	Unshare(ctx context.Context, id int64, email string) error
	SetVisibility(ctx context.Context, id int64, v Visibility) error
	Delete(ctx context.Context, id int64, keepPhotos bool) error
}

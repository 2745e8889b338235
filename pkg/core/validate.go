package core

import "fmt"

// Result reports the outcome of a reparent validation. Warning is advisory:
// the caller may proceed, unlike a failed Valid which must stop the mutation.
type Result struct {
	Valid          bool
	Err            error
	Warning        bool
	WarningMessage string
}

func invalid(err error) Result {
	return Result{Valid: false, Err: err}
}

// ValidateSetParent checks whether childID may be reparented under
// newParentID on the given snapshot. newParentID zero means a move to root.
// Checks run in a fixed order and short-circuit on the first failure:
// cycle, depth bound, ownership, shared-album nesting (warning only).
func ValidateSetParent(tree *Tree, childID, newParentID, currentUserID int64) Result {
	child, ok := tree.GetNode(childID)
	if !ok {
		return invalid(fmt.Errorf("child %d: %w", childID, ErrCollectionNotFound))
	}
	if newParentID == 0 {
		if child.Collection.OwnerID != currentUserID {
			return invalid(ErrNotOwner)
		}
		return sharingResult(child.Collection, Collection{OwnerID: currentUserID})
	}

	newParent, ok := tree.GetNode(newParentID)
	if !ok {
		return invalid(fmt.Errorf("parent %d: %w", newParentID, ErrCollectionNotFound))
	}
	if tree.WouldCreateCycle(childID, newParentID) {
		return invalid(ErrCycleDetected)
	}
	// The subtree carries its own height with it: the deepest moved node
	// lands at parent depth + 1 + height(child).
	if newParent.Depth+1+child.Height() > MaxDepth {
		return invalid(ErrDepthExceeded)
	}
	if child.Collection.OwnerID != currentUserID || newParent.Collection.OwnerID != currentUserID {
		return invalid(ErrNotOwner)
	}
	return sharingResult(child.Collection, newParent.Collection)
}

// sharingResult applies the shared-album nesting restriction. A collection
// already shared with other users may only be nested within albums the user
// owns outright; ownership has been established by the caller, so the
// restriction surfaces as a warning rather than a failure.
func sharingResult(child, newParent Collection) Result {
	switch {
	case child.IsShared():
		return Result{
			Valid:          true,
			Warning:        true,
			WarningMessage: fmt.Sprintf("%q is shared; sharees will see its new position", child.Name),
		}
	case newParent.IsShared():
		return Result{
			Valid:          true,
			Warning:        true,
			WarningMessage: fmt.Sprintf("%q is shared; its sharees will gain access to the moved album", newParent.Name),
		}
	default:
		return Result{Valid: true}
	}
}

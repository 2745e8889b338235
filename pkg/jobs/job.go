// Package jobs implements the durable, resumable engine behind cascading
// collection mutations. Jobs are persisted before they are acknowledged,
// executed one at a time by a single background worker, and retained after
// completion for inspection and rollback.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhollis/albd/pkg/core"
)

// Type enumerates the supported job kinds.
type Type string

const (
	TypeMove           Type = "move"
	TypeSubtreeShare   Type = "subtree_share"
	TypeSubtreeUnshare Type = "subtree_unshare"
	TypeCascadeHide    Type = "cascade_hide"
	TypeCascadeArchive Type = "cascade_archive"
	TypeSubtreeDelete  Type = "subtree_delete"
)

// Status is the job state machine: pending -> running -> one of the terminal
// states; completed may additionally become rolled_back.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusRolledBack      Status = "rolled_back"
)

// Terminal reports whether s is a resting state the worker will not touch.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusCancelled, StatusRolledBack:
		return true
	}
	return false
}

// Params is the tagged per-type payload, one variant per job type so the
// engine's dispatch is exhaustive at compile time.
type Params interface {
	isParams()
}

// MoveParams reparents the target collection.
type MoveParams struct {
	NewParentID int64 `json:"newParentId"`
}

func (MoveParams) isParams() {}

// ShareParams shares every collection in the working set with one user.
type ShareParams struct {
	Email     string         `json:"email"`
	PublicKey string         `json:"publicKey,omitempty"`
	Role      core.ShareRole `json:"role"`
}

func (ShareParams) isParams() {}

// UnshareParams revokes one user from every collection in the working set.
type UnshareParams struct {
	Email string `json:"email"`
}

func (UnshareParams) isParams() {}

// VisibilityParams applies a visibility to the working set.
type VisibilityParams struct {
	Visibility core.Visibility `json:"visibility"`
}

func (VisibilityParams) isParams() {}

// DeleteParams deletes the working set. Irreversible.
type DeleteParams struct {
	KeepPhotos bool `json:"keepPhotos"`
}

func (DeleteParams) isParams() {}

// RollbackData is the pre-mutation snapshot captured before a reversible job
// issues its first mutating call.
type RollbackData interface {
	isRollback()
}

// MoveRollback remembers the parent the target had before the move.
type MoveRollback struct {
	PreviousParentID int64 `json:"previousParentId"`
}

func (MoveRollback) isRollback() {}

// ShareRollback remembers each collection's sharee set before the job ran.
type ShareRollback struct {
	Previous map[int64][]core.Sharee `json:"previous"`
}

func (ShareRollback) isRollback() {}

// VisibilityRollback remembers each collection's visibility before the job ran.
type VisibilityRollback struct {
	Previous map[int64]core.Visibility `json:"previous"`
}

func (VisibilityRollback) isRollback() {}

// ItemFailure records one failed item without aborting the rest of the job.
type ItemFailure struct {
	CollectionID int64  `json:"collectionId"`
	Reason       string `json:"reason"`
}

// Progress counts items over the captured working set.
type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Fraction returns completion as a value in [0,1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Succeeded+p.Failed) / float64(p.Total)
}

// Job is one persisted unit of cascading work. WorkingSet is captured once at
// enqueue time and never re-resolved; Done holds the ids already mutated and
// is checkpointed at batch boundaries so a replay after a crash skips them.
type Job struct {
	ID        string       `json:"id"`
	Type      Type         `json:"type"`
	Target    int64        `json:"target"`
	Params    Params       `json:"-"`
	CreatedAt time.Time    `json:"createdAt"`
	Status    Status       `json:"status"`

	WorkingSet []int64       `json:"workingSet"`
	Done       []int64       `json:"done,omitempty"`
	Progress   Progress      `json:"progress"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	Error      string        `json:"error,omitempty"`
	Rollback   RollbackData  `json:"-"`
}

// Reversible reports whether the job type captures rollback data.
// Deletion is destructive by design and captures none.
func (j *Job) Reversible() bool {
	return j.Type != TypeSubtreeDelete
}

// Snapshot returns a copy safe to hand to observers while the worker keeps
// mutating the original. Rollback data is treated as read-only once captured
// and may be shared.
func (j *Job) Snapshot() Job {
	out := *j
	out.WorkingSet = append([]int64(nil), j.WorkingSet...)
	out.Done = append([]int64(nil), j.Done...)
	out.Failures = append([]ItemFailure(nil), j.Failures...)
	return out
}

type jobEnvelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Target     int64           `json:"target"`
	Params     json.RawMessage `json:"params,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
	Status     Status          `json:"status"`
	WorkingSet []int64         `json:"workingSet"`
	Done       []int64         `json:"done,omitempty"`
	Progress   Progress        `json:"progress"`
	Failures   []ItemFailure   `json:"failures,omitempty"`
	Error      string          `json:"error,omitempty"`
	Rollback   json.RawMessage `json:"rollback,omitempty"`
}

// MarshalJSON flattens the tagged variants into a stable envelope keyed by
// the job type.
func (j *Job) MarshalJSON() ([]byte, error) {
	env := jobEnvelope{
		ID:         j.ID,
		Type:       j.Type,
		Target:     j.Target,
		CreatedAt:  j.CreatedAt.UnixMilli(),
		Status:     j.Status,
		WorkingSet: j.WorkingSet,
		Done:       j.Done,
		Progress:   j.Progress,
		Failures:   j.Failures,
		Error:      j.Error,
	}
	if j.Params != nil {
		raw, err := json.Marshal(j.Params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		env.Params = raw
	}
	if j.Rollback != nil {
		raw, err := json.Marshal(j.Rollback)
		if err != nil {
			return nil, fmt.Errorf("marshal rollback: %w", err)
		}
		env.Rollback = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON restores the tagged variants from the envelope.
func (j *Job) UnmarshalJSON(data []byte) error {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*j = Job{
		ID:         env.ID,
		Type:       env.Type,
		Target:     env.Target,
		CreatedAt:  time.UnixMilli(env.CreatedAt),
		Status:     env.Status,
		WorkingSet: env.WorkingSet,
		Done:       env.Done,
		Progress:   env.Progress,
		Failures:   env.Failures,
		Error:      env.Error,
	}
	params, err := decodeParams(env.Type, env.Params)
	if err != nil {
		return err
	}
	j.Params = params
	if len(env.Rollback) > 0 {
		rollback, err := decodeRollback(env.Type, env.Rollback)
		if err != nil {
			return err
		}
		j.Rollback = rollback
	}
	return nil
}

func decodeParams(t Type, raw json.RawMessage) (Params, error) {
	unmarshal := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decode %s params: %w", t, err)
		}
		return nil
	}
	switch t {
	case TypeMove:
		var p MoveParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeSubtreeShare:
		var p ShareParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeSubtreeUnshare:
		var p UnshareParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeCascadeHide, TypeCascadeArchive:
		var p VisibilityParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeSubtreeDelete:
		var p DeleteParams
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

func decodeRollback(t Type, raw json.RawMessage) (RollbackData, error) {
	switch t {
	case TypeMove:
		var r MoveRollback
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s rollback: %w", t, err)
		}
		return r, nil
	case TypeSubtreeShare, TypeSubtreeUnshare:
		var r ShareRollback
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s rollback: %w", t, err)
		}
		return r, nil
	case TypeCascadeHide, TypeCascadeArchive:
		var r VisibilityRollback
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s rollback: %w", t, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("job type %q carries no rollback data", t)
	}
}

// Store is the durable record store jobs survive restarts in. LoadJobs
// returns records in creation order; implementations drop and log corrupt
// individual records rather than failing the whole load.
type Store interface {
	PutJob(ctx context.Context, job *Job) error
	LoadJobs(ctx context.Context) ([]*Job, error)
	DeleteJob(ctx context.Context, id string) error
}

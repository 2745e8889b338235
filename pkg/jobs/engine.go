package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhollis/albd/pkg/core"
	"github.com/rhollis/albd/pkg/service"
)

// DefaultBatchSize bounds how many items run between yield points. Batch
// boundaries are also where cancellation is observed and progress is
// checkpointed to the store.
const DefaultBatchSize = 50

// Logger is satisfied by logging.Logger; kept minimal to avoid cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Update is one job-state observation delivered to subscribers.
type Update struct {
	Job Job
}

// Engine owns the durable job queue and its single background worker. Jobs
// execute strictly in enqueue order, one at a time, so two cascading jobs
// never race on overlapping subtrees.
type Engine struct {
	store     Store
	trees     *service.TreeService
	mutator   core.Mutator
	logger    Logger
	batchSize int

	mu        sync.Mutex
	jobs      map[string]*Job
	queue     []string
	cancelled map[string]bool
	wake      chan struct{}
	started   bool
	subs      map[chan Update]struct{}

	// Held for the whole of a job run or a rollback so the two mutation
	// paths never interleave.
	execMu sync.Mutex
}

// NewEngine wires the engine to its collaborators. Call Start to load
// persisted jobs and launch the worker.
func NewEngine(store Store, trees *service.TreeService, mutator core.Mutator, logger Logger, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		store:     store,
		trees:     trees,
		mutator:   mutator,
		logger:    logger,
		batchSize: batchSize,
		jobs:      make(map[string]*Job),
		cancelled: make(map[string]bool),
		wake:      make(chan struct{}, 1),
		subs:      make(map[chan Update]struct{}),
	}
}

// Start loads every persisted job, requeues the non-terminal ones in
// creation order, and launches the worker. Terminal jobs stay loaded for
// inspection and rollback.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	loaded, err := e.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	e.mu.Lock()
	for _, job := range loaded {
		e.jobs[job.ID] = job
		if job.Status.Terminal() {
			continue
		}
		// A job found running was interrupted by a crash; it re-enters
		// the loop from the start of its stored working set. Items on
		// the done list are skipped, the rest replay idempotently. The
		// crashed run's failure tally is discarded so replayed items are
		// counted exactly once.
		job.Status = StatusPending
		job.Progress = Progress{Total: len(job.WorkingSet), Succeeded: len(job.Done)}
		job.Failures = nil
		e.queue = append(e.queue, job.ID)
		e.logger.Printf("resuming job %s (%s), %d/%d items done",
			job.ID, job.Type, len(job.Done), len(job.WorkingSet))
	}
	e.mu.Unlock()

	go e.worker(ctx)
	return nil
}

func (e *Engine) worker(ctx context.Context) {
	for {
		job := e.nextPending()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}
		e.execMu.Lock()
		e.runJob(ctx, job)
		e.execMu.Unlock()
		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) nextPending() *Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		job, ok := e.jobs[id]
		if !ok || job.Status != StatusPending {
			continue
		}
		return job
	}
	return nil
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Enqueue validates the request, captures the working set from the current
// tree, and persists the job before returning. The caller observes execution
// through the update stream; Enqueue itself is fire-and-forget.
func (e *Engine) Enqueue(ctx context.Context, t Type, target int64, params Params) (Job, error) {
	tree, err := e.trees.GetTree(ctx, false)
	if err != nil {
		return Job{}, err
	}
	node, ok := tree.GetNode(target)
	if !ok {
		return Job{}, fmt.Errorf("target %d: %w", target, core.ErrCollectionNotFound)
	}

	if err := checkParams(t, params); err != nil {
		return Job{}, err
	}
	if t == TypeMove {
		p := params.(MoveParams)
		res := core.ValidateSetParent(tree, target, p.NewParentID, e.trees.UserID())
		if !res.Valid {
			return Job{}, res.Err
		}
	}

	workingSet := []int64{target}
	if t != TypeMove {
		for _, d := range node.Descendants() {
			workingSet = append(workingSet, d.Collection.ID)
		}
	}

	job := &Job{
		ID:         uuid.NewString(),
		Type:       t,
		Target:     target,
		Params:     params,
		CreatedAt:  time.Now(),
		Status:     StatusPending,
		WorkingSet: workingSet,
		Progress:   Progress{Total: len(workingSet)},
	}
	if err := e.store.PutJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("persist job: %w", err)
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.queue = append(e.queue, job.ID)
	snapshot := job.Snapshot()
	e.mu.Unlock()
	e.publish(snapshot)
	e.signal()
	return snapshot, nil
}

func checkParams(t Type, params Params) error {
	ok := false
	switch params.(type) {
	case MoveParams:
		ok = t == TypeMove
	case ShareParams:
		ok = t == TypeSubtreeShare
	case UnshareParams:
		ok = t == TypeSubtreeUnshare
	case VisibilityParams:
		ok = t == TypeCascadeHide || t == TypeCascadeArchive
	case DeleteParams:
		ok = t == TypeSubtreeDelete
	case nil:
		return fmt.Errorf("nil params for job type %q", t)
	}
	if !ok {
		return fmt.Errorf("params %T do not match job type %q", params, t)
	}
	return nil
}

func (e *Engine) runJob(ctx context.Context, job *Job) {
	e.mu.Lock()
	if job.Status != StatusPending {
		// Cancelled between dequeue and execution.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.transition(ctx, job, StatusRunning)

	// Enqueue-time validation may be stale by now: jobs queued ahead of this
	// one can have reshaped the tree. Re-check against a fresh snapshot
	// before issuing the mutation, or a queued pair of moves could persist
	// a parent cycle.
	if job.Type == TypeMove {
		if err := e.revalidateMove(ctx, job); err != nil {
			e.logger.Printf("job %s: move no longer valid: %v", job.ID, err)
			e.mu.Lock()
			job.Error = err.Error()
			e.mu.Unlock()
			e.transition(ctx, job, StatusFailed)
			return
		}
	}

	if job.Reversible() && job.Rollback == nil {
		if err := e.captureRollback(ctx, job); err != nil {
			e.logger.Printf("job %s: rollback capture failed: %v", job.ID, err)
			e.mu.Lock()
			job.Error = fmt.Sprintf("rollback capture: %v", err)
			e.mu.Unlock()
			e.transition(ctx, job, StatusFailed)
			return
		}
		// Persist the captured state before the first mutating call so
		// a crash mid-job can still roll back later.
		e.checkpoint(ctx, job)
	}

	done := make(map[int64]bool, len(job.Done))
	for _, id := range job.Done {
		done[id] = true
	}

	processed := 0
	for _, id := range job.WorkingSet {
		if done[id] {
			continue
		}
		err := e.executeItem(ctx, job, id)
		// Observers snapshot these fields under the same lock.
		e.mu.Lock()
		if err != nil {
			job.Failures = append(job.Failures, ItemFailure{CollectionID: id, Reason: err.Error()})
			job.Progress.Failed++
		} else {
			job.Done = append(job.Done, id)
			job.Progress.Succeeded++
		}
		e.mu.Unlock()
		processed++
		if processed%e.batchSize == 0 {
			e.checkpoint(ctx, job)
			if e.isCancelled(job.ID) {
				e.transition(ctx, job, StatusCancelled)
				e.trees.Invalidate()
				return
			}
			if ctx.Err() != nil {
				// Shutdown: leave the job running in the store, the
				// next start resumes it from the done list.
				return
			}
		}
	}
	// Items completed before a cancel arrived stay applied; the job still
	// reports cancelled with partial progress when the flag landed after
	// the final batch.
	if e.isCancelled(job.ID) && job.Progress.Succeeded+job.Progress.Failed < job.Progress.Total {
		e.transition(ctx, job, StatusCancelled)
		e.trees.Invalidate()
		return
	}

	switch {
	case job.Progress.Succeeded == 0 && job.Progress.Failed > 0:
		e.transition(ctx, job, StatusFailed)
	case job.Progress.Failed > 0:
		e.transition(ctx, job, StatusPartiallyFailed)
	default:
		e.transition(ctx, job, StatusCompleted)
	}
	e.trees.Invalidate()
}

// executeItem issues the per-item external call for the job type. Failures
// are isolated to the item; nothing here aborts the job.
func (e *Engine) executeItem(ctx context.Context, job *Job, id int64) error {
	switch p := job.Params.(type) {
	case MoveParams:
		return e.mutator.SetParent(ctx, id, p.NewParentID)
	case ShareParams:
		return e.mutator.Share(ctx, id, p.Email, p.PublicKey, p.Role)
	case UnshareParams:
		return e.mutator.Unshare(ctx, id, p.Email)
	case VisibilityParams:
		return e.mutator.SetVisibility(ctx, id, p.Visibility)
	case DeleteParams:
		err := e.mutator.Delete(ctx, id, p.KeepPhotos)
		if errors.Is(err, core.ErrCollectionNotFound) {
			// Already deleted, e.g. a replay after a crash mid-batch.
			return nil
		}
		return err
	default:
		return fmt.Errorf("job %s: unsupported params %T", job.ID, job.Params)
	}
}

// revalidateMove re-runs the reparent validation against a fresh snapshot
// just before a queued move executes.
func (e *Engine) revalidateMove(ctx context.Context, job *Job) error {
	p, ok := job.Params.(MoveParams)
	if !ok {
		return fmt.Errorf("job %s: unsupported params %T", job.ID, job.Params)
	}
	tree, err := e.trees.GetTree(ctx, true)
	if err != nil {
		return err
	}
	if res := core.ValidateSetParent(tree, job.Target, p.NewParentID, e.trees.UserID()); !res.Valid {
		return res.Err
	}
	return nil
}

// captureRollback snapshots the pre-mutation state for a reversible job from
// a fresh tree.
func (e *Engine) captureRollback(ctx context.Context, job *Job) error {
	tree, err := e.trees.GetTree(ctx, true)
	if err != nil {
		return err
	}
	var data RollbackData
	switch job.Params.(type) {
	case MoveParams:
		node, ok := tree.GetNode(job.Target)
		if !ok {
			return fmt.Errorf("target %d: %w", job.Target, core.ErrCollectionNotFound)
		}
		data = MoveRollback{PreviousParentID: node.ParentID()}
	case ShareParams, UnshareParams:
		prev := make(map[int64][]core.Sharee, len(job.WorkingSet))
		for _, id := range job.WorkingSet {
			if node, ok := tree.GetNode(id); ok {
				prev[id] = append([]core.Sharee(nil), node.Collection.Sharees...)
			}
		}
		data = ShareRollback{Previous: prev}
	case VisibilityParams:
		prev := make(map[int64]core.Visibility, len(job.WorkingSet))
		for _, id := range job.WorkingSet {
			if node, ok := tree.GetNode(id); ok {
				prev[id] = node.Collection.Visibility
			}
		}
		data = VisibilityRollback{Previous: prev}
	}
	e.mu.Lock()
	job.Rollback = data
	e.mu.Unlock()
	return nil
}

// Cancel requests cooperative cancellation. A pending job is cancelled
// immediately; a running job finishes its current batch first.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if job.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
	e.cancelled[id] = true
	pending := job.Status == StatusPending
	e.mu.Unlock()

	if pending {
		e.transition(ctx, job, StatusCancelled)
	}
	return nil
}

func (e *Engine) isCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[id]
}

// RollbackJob replays the captured pre-mutation state through the mutation
// API, item by item. Only a completed job with rollback data qualifies.
func (e *Engine) RollbackJob(ctx context.Context, id string) error {
	e.mu.Lock()
	job, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if job.Status != StatusCompleted {
		return fmt.Errorf("job %s is %s, only completed jobs roll back", id, job.Status)
	}
	if job.Rollback == nil {
		return fmt.Errorf("job %s carries no rollback data", id)
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	var firstErr error
	record := func(itemID int64, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rollback item %d: %w", itemID, err)
		}
	}

	switch r := job.Rollback.(type) {
	case MoveRollback:
		record(job.Target, e.mutator.SetParent(ctx, job.Target, r.PreviousParentID))
	case ShareRollback:
		for _, itemID := range job.WorkingSet {
			record(itemID, e.restoreSharees(ctx, job, itemID, r.Previous[itemID]))
		}
	case VisibilityRollback:
		for _, itemID := range job.WorkingSet {
			prev, ok := r.Previous[itemID]
			if !ok {
				continue
			}
			record(itemID, e.mutator.SetVisibility(ctx, itemID, prev))
		}
	}
	if firstErr != nil {
		return firstErr
	}

	e.transition(ctx, job, StatusRolledBack)
	e.trees.Invalidate()
	return nil
}

// restoreSharees undoes the share or unshare of one item using its captured
// previous sharee set.
func (e *Engine) restoreSharees(ctx context.Context, job *Job, id int64, previous []core.Sharee) error {
	switch p := job.Params.(type) {
	case ShareParams:
		for _, sharee := range previous {
			if sharee.Email == p.Email {
				// Was already shared with this user before the job.
				return nil
			}
		}
		return e.mutator.Unshare(ctx, id, p.Email)
	case UnshareParams:
		for _, sharee := range previous {
			if sharee.Email == p.Email {
				return e.mutator.Share(ctx, id, sharee.Email, sharee.PublicKey, sharee.Role)
			}
		}
		return nil
	default:
		return fmt.Errorf("job %s: no sharee rollback for %T", job.ID, job.Params)
	}
}

// ClearJob removes a terminal job record from the store and from memory.
func (e *Engine) ClearJob(ctx context.Context, id string) error {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if ok && !job.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("job %s is still %s", id, job.Status)
	}
	delete(e.jobs, id)
	delete(e.cancelled, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	return e.store.DeleteJob(ctx, id)
}

// GetJob returns a snapshot of one job.
func (e *Engine) GetJob(id string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.Snapshot(), true
}

// ActiveJobs returns snapshots of the jobs not yet in a terminal state,
// oldest first.
func (e *Engine) ActiveJobs() []Job {
	return e.list(false)
}

// AllJobs returns snapshots of every known job, oldest first.
func (e *Engine) AllJobs() []Job {
	return e.list(true)
}

func (e *Engine) list(includeTerminal bool) []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		if !includeTerminal && job.Status.Terminal() {
			continue
		}
		out = append(out, job.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe returns a channel of job updates and a cancel function. Slow
// subscribers have updates dropped rather than blocking the worker.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(snapshot Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- Update{Job: snapshot}:
		default:
			e.logger.Printf("dropping job update for slow subscriber")
		}
	}
}

// transition moves a job to status, persists it, and notifies subscribers.
// Persistence failures are logged, never fatal to the process.
func (e *Engine) transition(ctx context.Context, job *Job, status Status) {
	e.mu.Lock()
	job.Status = status
	snapshot := job.Snapshot()
	e.mu.Unlock()
	if err := e.store.PutJob(ctx, job); err != nil {
		e.logger.Printf("job %s: persist %s failed: %v", job.ID, status, err)
	}
	e.publish(snapshot)
}

// checkpoint persists progress at a batch boundary.
func (e *Engine) checkpoint(ctx context.Context, job *Job) {
	e.mu.Lock()
	snapshot := job.Snapshot()
	e.mu.Unlock()
	if err := e.store.PutJob(ctx, job); err != nil {
		e.logger.Printf("job %s: checkpoint failed: %v", job.ID, err)
	}
	e.publish(snapshot)
}

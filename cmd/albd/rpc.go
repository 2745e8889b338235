package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rhollis/albd/pkg/core"
	"github.com/rhollis/albd/pkg/ipc"
	"github.com/rhollis/albd/pkg/jobs"
)

func (d *daemon) registerHandlers(srv *ipc.Server) {
	srv.Register("ping", d.handlePing)
	srv.Register("get_tree", d.handleGetTree)
	srv.Register("breadcrumbs", d.handleBreadcrumbs)
	srv.Register("search", d.handleSearch)
	srv.Register("create_album", d.handleCreateAlbum)
	srv.Register("move_collection", d.handleMoveCollection)
	srv.Register("enqueue_job", d.handleEnqueueJob)
	srv.Register("cancel_job", d.handleCancelJob)
	srv.Register("rollback_job", d.handleRollbackJob)
	srv.Register("clear_job", d.handleClearJob)
	srv.Register("list_jobs", d.handleListJobs)
	srv.Register("sync_push", d.handleSyncPush)
	srv.Register("sync_pull", d.handleSyncPull)
	srv.RegisterStream("watch", d.handleWatch)
}

func (d *daemon) handlePing(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	_ = params
	return map[string]any{"now": time.Now().UnixMilli()}, nil
}

type treeNodeView struct {
	Collection core.Collection `json:"collection"`
	Depth      int             `json:"depth"`
	Children   []*treeNodeView `json:"children,omitempty"`
}

func viewOf(node *core.TreeNode) *treeNodeView {
	view := &treeNodeView{Collection: node.Collection, Depth: node.Depth}
	for _, child := range node.Children {
		view.Children = append(view.Children, viewOf(child))
	}
	return view
}

func (d *daemon) handleGetTree(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		ForceRefresh bool `json:"forceRefresh"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, ipc.Errorf("INVALID_REQUEST", "invalid params", nil)
		}
	}
	tree, err := d.trees.GetTree(ctx, req.ForceRefresh)
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	roots := make([]*treeNodeView, 0, len(tree.Roots))
	for _, root := range tree.Roots {
		roots = append(roots, viewOf(root))
	}
	return map[string]any{"roots": roots, "count": tree.Len()}, nil
}

func (d *daemon) handleBreadcrumbs(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, ipc.Errorf("INVALID_REQUEST", "invalid params", nil)
	}
	crumbs, err := d.trees.GetBreadcrumbs(ctx, req.ID)
	if err != nil {
		return nil, errorFor(err)
	}
	path, err := d.trees.GetPath(ctx, req.ID)
	if err != nil {
		return nil, errorFor(err)
	}
	return map[string]any{"breadcrumbs": crumbs, "path": path}, nil
}

func (d *daemon) handleSearch(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, ipc.Errorf("INVALID_REQUEST", "invalid search params", nil)
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	tree, err := d.trees.GetTree(ctx, false)
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	query := strings.ToLower(req.Query)
	results := make([]map[string]any, 0)
	for _, c := range tree.Collections() {
		if len(results) >= req.Limit {
			break
		}
		if query == "" || strings.Contains(strings.ToLower(c.Name), query) {
			crumbs, _ := tree.Breadcrumbs(c.ID)
			results = append(results, map[string]any{
				"id":          c.ID,
				"name":        c.Name,
				"breadcrumbs": crumbs,
			})
		}
	}
	return map[string]any{"matches": results}, nil
}

func (d *daemon) handleCreateAlbum(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		return nil, ipc.Errorf("INVALID_REQUEST", "name required", nil)
	}
	created, err := d.store.CreateAlbum(ctx, req.Name, d.trees.UserID())
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	d.trees.Invalidate()
	d.commitSnapshot(ctx, fmt.Sprintf("create album %q", created.Name))
	return map[string]any{"collection": created}, nil
}

func (d *daemon) handleMoveCollection(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		ID          int64 `json:"id"`
		NewParentID int64 `json:"newParentId"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.ID == 0 {
		return nil, ipc.Errorf("INVALID_REQUEST", "id required", nil)
	}
	res, err := d.trees.MoveCollection(ctx, req.ID, req.NewParentID)
	if err != nil {
		return nil, ipc.Errorf("STORAGE_ERROR", err.Error(), nil)
	}
	if !res.Valid {
		return nil, ipc.Errorf("VALIDATION_FAILED", res.Err.Error(), nil)
	}
	d.commitSnapshot(ctx, fmt.Sprintf("move collection %d under %d", req.ID, req.NewParentID))
	out := map[string]any{"moved": true}
	if res.Warning {
		out["warning"] = res.WarningMessage
	}
	return out, nil
}

type enqueueParams struct {
	Type        string `json:"type"`
	Target      int64  `json:"target"`
	NewParentID int64  `json:"newParentId"`
	Email       string `json:"email"`
	PublicKey   string `json:"publicKey"`
	Role        string `json:"role"`
	KeepPhotos  bool   `json:"keepPhotos"`
}

func (p enqueueParams) toJobParams() (jobs.Type, jobs.Params, error) {
	switch jobs.Type(p.Type) {
	case jobs.TypeMove:
		return jobs.TypeMove, jobs.MoveParams{NewParentID: p.NewParentID}, nil
	case jobs.TypeSubtreeShare:
		if p.Email == "" {
			return "", nil, fmt.Errorf("email required for %s", p.Type)
		}
		role := core.ShareRole(p.Role)
		if role == "" {
			role = core.RoleViewer
		}
		return jobs.TypeSubtreeShare, jobs.ShareParams{Email: p.Email, PublicKey: p.PublicKey, Role: role}, nil
	case jobs.TypeSubtreeUnshare:
		if p.Email == "" {
			return "", nil, fmt.Errorf("email required for %s", p.Type)
		}
		return jobs.TypeSubtreeUnshare, jobs.UnshareParams{Email: p.Email}, nil
	case jobs.TypeCascadeHide:
		return jobs.TypeCascadeHide, jobs.VisibilityParams{Visibility: core.VisibilityHidden}, nil
	case jobs.TypeCascadeArchive:
		return jobs.TypeCascadeArchive, jobs.VisibilityParams{Visibility: core.VisibilityArchived}, nil
	case jobs.TypeSubtreeDelete:
		return jobs.TypeSubtreeDelete, jobs.DeleteParams{KeepPhotos: p.KeepPhotos}, nil
	default:
		return "", nil, fmt.Errorf("unknown job type %q", p.Type)
	}
}

func (d *daemon) handleEnqueueJob(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req enqueueParams
	if err := json.Unmarshal(params, &req); err != nil || req.Target == 0 {
		return nil, ipc.Errorf("INVALID_REQUEST", "target required", nil)
	}
	jobType, jobParams, err := req.toJobParams()
	if err != nil {
		return nil, ipc.Errorf("INVALID_REQUEST", err.Error(), nil)
	}
	job, err := d.engine.Enqueue(ctx, jobType, req.Target, jobParams)
	if err != nil {
		return nil, errorFor(err)
	}
	return map[string]any{"job": &job}, nil
}

func (d *daemon) handleCancelJob(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	id, rpcErr := jobIDParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := d.engine.Cancel(ctx, id); err != nil {
		return nil, ipc.Errorf("JOB_ERROR", err.Error(), nil)
	}
	return map[string]any{"cancelled": true}, nil
}

func (d *daemon) handleRollbackJob(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	id, rpcErr := jobIDParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := d.engine.RollbackJob(ctx, id); err != nil {
		return nil, ipc.Errorf("JOB_ERROR", err.Error(), nil)
	}
	d.commitSnapshot(ctx, fmt.Sprintf("rollback job %s", id))
	return map[string]any{"rolledBack": true}, nil
}

func (d *daemon) handleClearJob(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	id, rpcErr := jobIDParam(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := d.engine.ClearJob(ctx, id); err != nil {
		return nil, ipc.Errorf("JOB_ERROR", err.Error(), nil)
	}
	return map[string]any{"cleared": true}, nil
}

func (d *daemon) handleListJobs(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	var req struct {
		All bool `json:"all"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, ipc.Errorf("INVALID_REQUEST", "invalid params", nil)
		}
	}
	var list []jobs.Job
	if req.All {
		list = d.engine.AllJobs()
	} else {
		list = d.engine.ActiveJobs()
	}
	out := make([]*jobs.Job, 0, len(list))
	for i := range list {
		out = append(out, &list[i])
	}
	return map[string]any{"jobs": out}, nil
}

func (d *daemon) handleSyncPush(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	_ = params
	if d.repo == nil {
		return nil, ipc.Errorf("VCS_DISABLED", "snapshot repo not enabled", nil)
	}
	if err := d.repo.Push(ctx); err != nil {
		return nil, ipc.Errorf("VCS_ERROR", err.Error(), nil)
	}
	return map[string]any{"pushed": true}, nil
}

func (d *daemon) handleSyncPull(ctx context.Context, params json.RawMessage) (any, *ipc.Error) {
	_ = params
	if d.repo == nil {
		return nil, ipc.Errorf("VCS_DISABLED", "snapshot repo not enabled", nil)
	}
	if err := d.repo.Pull(ctx); err != nil {
		return nil, ipc.Errorf("VCS_ERROR", err.Error(), nil)
	}
	return map[string]any{"pulled": true}, nil
}

func (d *daemon) handleWatch(ctx context.Context, params json.RawMessage) (<-chan json.RawMessage, func(), *ipc.Error) {
	_ = params
	client := d.eventHub.register()
	stop := func() { d.eventHub.unregister(client) }
	return client.send, stop, nil
}

func jobIDParam(params json.RawMessage) (string, *ipc.Error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.ID == "" {
		return "", ipc.Errorf("INVALID_REQUEST", "job id required", nil)
	}
	return req.ID, nil
}

func errorFor(err error) *ipc.Error {
	switch {
	case errors.Is(err, core.ErrCollectionNotFound):
		return ipc.Errorf("NOT_FOUND", err.Error(), nil)
	case errors.Is(err, core.ErrCycleDetected),
		errors.Is(err, core.ErrDepthExceeded),
		errors.Is(err, core.ErrNotOwner):
		return ipc.Errorf("VALIDATION_FAILED", err.Error(), nil)
	default:
		return ipc.Errorf("INTERNAL", err.Error(), nil)
	}
}

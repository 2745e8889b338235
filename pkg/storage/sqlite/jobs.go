package sqlite

import (
	"context"
	"encoding/json"

	"github.com/rhollis/albd/pkg/jobs"
)

// PutJob inserts or replaces one job record. Implements jobs.Store; the
// engine calls this before acknowledging an enqueue and at every batch
// checkpoint.
func (s *Store) PutJob(ctx context.Context, job *jobs.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs(id, created_at, status, payload) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload;
	`, job.ID, job.CreatedAt.UnixMilli(), string(job.Status), payload)
	return err
}

// LoadJobs returns every persisted job in creation order. A record that no
// longer decodes is deleted and logged rather than blocking the queue from
// resuming.
func (s *Store) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out     []*jobs.Job
		corrupt []string
	)
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		job := &jobs.Job{}
		if err := json.Unmarshal(payload, job); err != nil {
			s.logf("dropping corrupt job record %s: %v", id, err)
			corrupt = append(corrupt, id)
			continue
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			s.logf("delete corrupt job record %s: %v", id, err)
		}
	}
	return out, nil
}

// DeleteJob removes one job record.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

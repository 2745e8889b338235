// Package sqlite persists the daemon's local collection mirror and the job
// log in a single SQLite database per profile.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rhollis/albd/pkg/core"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Store owns the SQLite database for a profile. It implements core.Source,
// core.Mutator, and jobs.Store.
type Store struct {
	db     *sql.DB
	path   string
	logger Logger
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// SetLogger installs the logger used for dropped-record warnings.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS collections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			owner_id INTEGER NOT NULL,
			visibility INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_collections_parent ON collections(parent_id);`,
		`CREATE TABLE IF NOT EXISTS sharees (
			collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			email TEXT NOT NULL,
			role TEXT NOT NULL,
			public_key TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection_id, email)
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Collections returns the flat, current collection list including sharees.
// Implements core.Source.
func (s *Store) Collections(ctx context.Context) ([]core.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, name, owner_id, visibility, updated_at
		FROM collections
		ORDER BY id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []core.Collection
	index := make(map[int64]int)
	for rows.Next() {
		var c core.Collection
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.OwnerID, &c.Visibility, &c.UpdatedAt); err != nil {
			return nil, err
		}
		index[c.ID] = len(cols)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	shareeRows, err := s.db.QueryContext(ctx, `
		SELECT collection_id, email, role, public_key
		FROM sharees
		ORDER BY collection_id, email;
	`)
	if err != nil {
		return nil, err
	}
	defer shareeRows.Close()
	for shareeRows.Next() {
		var (
			collectionID int64
			sharee       core.Sharee
		)
		if err := shareeRows.Scan(&collectionID, &sharee.Email, &sharee.Role, &sharee.PublicKey); err != nil {
			return nil, err
		}
		if i, ok := index[collectionID]; ok {
			cols[i].Sharees = append(cols[i].Sharees, sharee)
		}
	}
	if err := shareeRows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// SetParent reparents one collection; parentID zero moves it to root.
// Replaying the same call is a no-op, which resumption relies on.
func (s *Store) SetParent(ctx context.Context, id, parentID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET parent_id = ?, updated_at = ? WHERE id = ?`,
		parentID, time.Now().UnixMilli(), id)
	return wrapRowsAffected(res, err)
}

// CreateAlbum inserts a new root-level collection and returns it.
func (s *Store) CreateAlbum(ctx context.Context, name string, ownerID int64) (core.Collection, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections(parent_id, name, owner_id, visibility, updated_at) VALUES(0, ?, ?, ?, ?)`,
		name, ownerID, core.VisibilityVisible, now)
	if err != nil {
		return core.Collection{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Collection{}, err
	}
	return core.Collection{ID: id, Name: name, OwnerID: ownerID, UpdatedAt: now}, nil
}

// Share grants one user access to a collection. Re-sharing with the same
// email updates the role and key in place.
func (s *Store) Share(ctx context.Context, id int64, email, publicKey string, role core.ShareRole) error {
	if err := s.requireCollection(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sharees(collection_id, email, role, public_key) VALUES(?,?,?,?)
		ON CONFLICT(collection_id, email) DO UPDATE SET role = excluded.role, public_key = excluded.public_key;
	`, id, email, role, publicKey)
	if err != nil {
		return err
	}
	return s.touch(ctx, id)
}

// Unshare revokes one user. Revoking an absent sharee succeeds: the call
// means "ensure unshared" so replays stay idempotent.
func (s *Store) Unshare(ctx context.Context, id int64, email string) error {
	if err := s.requireCollection(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sharees WHERE collection_id = ? AND email = ?`, id, email); err != nil {
		return err
	}
	return s.touch(ctx, id)
}

// SetVisibility applies a visibility state to one collection.
func (s *Store) SetVisibility(ctx context.Context, id int64, v core.Visibility) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET visibility = ?, updated_at = ? WHERE id = ?`,
		v, time.Now().UnixMilli(), id)
	return wrapRowsAffected(res, err)
}

// Delete removes one collection. keepPhotos is forwarded for API parity; the
// mirror stores no photos, so it has no local effect. Deleting an absent
// collection reports core.ErrCollectionNotFound, which replaying callers
// treat as success.
func (s *Store) Delete(ctx context.Context, id int64, keepPhotos bool) error {
	_ = keepPhotos
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	return wrapRowsAffected(res, err)
}

func (s *Store) requireCollection(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("collection %d: %w", id, core.ErrCollectionNotFound)
	}
	return err
}

func (s *Store) touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE collections SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

func (s *Store) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return core.ErrCollectionNotFound
	}
	return nil
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    record_type TEXT NOT NULL DEFAULT 'task',
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    assignee TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_id);

CREATE TABLE IF NOT EXISTS labels (
    record_id TEXT NOT NULL,
    label TEXT NOT NULL,
    PRIMARY KEY (record_id, label),
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_labels_label ON labels(label);
`

const timeLayout = time.RFC3339Nano

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file. Its directory is created if missing.
	Path string

	// BusyTimeout bounds how long a connection waits on a locked database.
	BusyTimeout time.Duration
}

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// Init creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// LoadAll returns every record ordered by insertion.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	labels, err := s.loadLabels(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, record_type, description, status, assignee, parent_id, metadata, created_at, updated_at
		FROM records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("store: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                  Record
			meta                 string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Type, &rec.Description, &rec.Status,
			&rec.Assignee, &rec.ParentID, &meta, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		rec.Metadata, err = decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("store: record %s: %w", rec.ID, err)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		rec.Labels = labels[rec.ID]
		if rec.Labels == nil {
			rec.Labels = []string{}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) loadLabels(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, label FROM labels`)
	if err != nil {
		return nil, fmt.Errorf("store: query labels: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("store: scan label: %w", err)
		}
		out[id] = append(out[id], label)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out, rows.Err()
}

// Create inserts a record and its labels in one transaction.
func (s *SQLiteStore) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	meta, err := encodeMetadata(req.Metadata)
	if err != nil {
		return "", err
	}
	if req.Type == "" {
		req.Type = "task"
	}
	if req.Status == "" {
		req.Status = DefaultStatus
	}

	id := NewID()
	now := time.Now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (id, title, record_type, description, status, assignee, parent_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.Title, req.Type, req.Description, req.Status, req.Assignee, req.ParentID, meta, now, now); err != nil {
		return "", fmt.Errorf("store: insert record: %w", err)
	}
	if err := insertLabels(ctx, tx, id, req.Labels); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// Update applies the set fields of req to record id.
func (s *SQLiteStore) Update(ctx context.Context, id string, req UpdateRequest) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("store: lookup %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(timeLayout)}
	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
	}
	if req.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *req.Assignee)
	}
	if req.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *req.Status)
	}
	if req.Metadata != nil {
		meta, err := encodeMetadata(req.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, meta)
	}
	args = append(args, id)

	query := "UPDATE records SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update %s: %w", id, err)
	}

	if req.Labels != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE record_id = ?`, id); err != nil {
			return fmt.Errorf("store: clear labels: %w", err)
		}
		if err := insertLabels(ctx, tx, id, req.Labels); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.cfg.Path
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func insertLabels(ctx context.Context, tx *sql.Tx, id string, labels []string) error {
	for _, label := range normalizeLabels(labels) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO labels (record_id, label) VALUES (?, ?)`, id, label); err != nil {
			return fmt.Errorf("store: insert label %q: %w", label, err)
		}
	}
	return nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("store: encode metadata: %w", err)
	}
	return string(data), nil
}

// decodeMetadata keeps numbers as json.Number so integer fields survive
// the round trip without float conversion.
func decodeMetadata(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

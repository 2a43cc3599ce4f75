// Package store persists extraction history and analytics snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"extract-main-content/internal/models"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS extractions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id  TEXT NOT NULL,
	url         TEXT NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	text_length INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	manual      INTEGER NOT NULL DEFAULT 0,
	duration_ns INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at   INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
`

// Extraction is one row of extraction history
type Extraction struct {
	ID                      int64         `json:"id"`
	RequestID               string        `json:"requestId"`
	URL                     string        `json:"url"`
	Method                  models.Method `json:"method,omitempty"`
	Success                 bool          `json:"success"`
	TextLength              int           `json:"textLength"`
	Error                   string        `json:"error,omitempty"`
	RequiresManualSelection bool          `json:"requiresManualSelection,omitempty"`
	Duration                time.Duration `json:"duration"`
	CreatedAt               time.Time     `json:"createdAt"`
}

// Store wraps a SQLite database
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every pooled connection to :memory: would be its own database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordExtraction appends a pipeline outcome to the history
func (s *Store) RecordExtraction(ctx context.Context, rawURL string, r models.PipelineResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (request_id, url, method, success, text_length, error, manual, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RequestID, rawURL, string(r.Method), r.Success, r.TextLength(), r.Error,
		r.RequiresManualSelection, int64(r.Metrics.ExtractionTime), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record extraction: %w", err)
	}
	return nil
}

// History returns the most recent extractions, newest first
func (s *Store) History(ctx context.Context, limit int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, url, method, success, text_length, error, manual, duration_ns, created_at
		FROM extractions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []Extraction
	for rows.Next() {
		var (
			e         Extraction
			method    string
			duration  int64
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.URL, &method, &e.Success, &e.TextLength,
			&e.Error, &e.RequiresManualSelection, &duration, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		e.Method = models.Method(method)
		e.Duration = time.Duration(duration)
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return history, nil
}

// SaveSnapshot stores an analytics snapshot
func (s *Store) SaveSnapshot(ctx context.Context, snap models.AnalyticsSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (taken_at, payload) VALUES (?, ?)`,
		takenAt.UnixNano(), string(payload)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest stored snapshot, or nil when there is none
func (s *Store) LatestSnapshot(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM analytics_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap models.AnalyticsSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

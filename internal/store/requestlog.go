package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// maxRequestLogRows is the "last N≈500 records" retention target of §7: the
// log is a recent-activity window for the admin surface, not an audit
// trail, so it self-trims on every insert rather than needing a purge job.
const maxRequestLogRows = 500

// RequestLogEntry is one completed call, recorded once the Dispatcher call
// returns, per §7 (for non-streaming calls, before the response body is
// rendered; a failed non-streaming call is not recorded).
type RequestLogEntry struct {
	SessionID       string
	AccountID       string
	Dialect         string
	RequestedModel  string
	UpstreamModel   string
	PromptTokens    int
	CompletionTokens int
	Status          string
	DurationMs      int64
	CreatedAt       time.Time
}

// RequestLogStore is the sqlite-backed request-history log, grounded on the
// teacher's internal/store/sqlite.go embed-and-pragma setup, trimmed down
// to the one table this gateway actually needs (the teacher's accounts,
// users, and dashboard-analytics tables are superseded by accountpool's own
// in-memory model and the JSON account file, so those tables are dropped
// rather than carried as dead schema).
type RequestLogStore struct {
	db *sql.DB
}

func NewRequestLogStore(dbPath string) (*RequestLogStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RequestLogStore{db: db}, nil
}

func (s *RequestLogStore) Close() error { return s.db.Close() }

// Insert records one call and trims the table back to maxRequestLogRows.
func (s *RequestLogStore) Insert(ctx context.Context, e RequestLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log (session_id, account_id, dialect, requested_model,
			upstream_model, prompt_tokens, completion_tokens, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.AccountID, e.Dialect, e.RequestedModel, e.UpstreamModel,
		e.PromptTokens, e.CompletionTokens, e.Status, e.DurationMs, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM request_log WHERE id NOT IN (
			SELECT id FROM request_log ORDER BY created_at DESC LIMIT ?
		)`, maxRequestLogRows)
	if err != nil {
		return fmt.Errorf("trim request log: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first, capped at limit.
func (s *RequestLogStore) Recent(ctx context.Context, limit int) ([]RequestLogEntry, error) {
	if limit <= 0 || limit > maxRequestLogRows {
		limit = maxRequestLogRows
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, account_id, dialect, requested_model, upstream_model,
			prompt_tokens, completion_tokens, status, duration_ms, created_at
		FROM request_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var entries []RequestLogEntry
	for rows.Next() {
		var e RequestLogEntry
		var ts int64
		if err := rows.Scan(&e.SessionID, &e.AccountID, &e.Dialect, &e.RequestedModel,
			&e.UpstreamModel, &e.PromptTokens, &e.CompletionTokens, &e.Status, &e.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("scan request log row: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

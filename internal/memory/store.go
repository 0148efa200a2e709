// Package memory persists conversation threads. Each thread has two views:
// an active document used for prompt assembly, expiring after an inactivity
// window, and an append-only audit projection retained indefinitely.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/canopybank/llm-gateway/internal/provider"
)

// DefaultActiveTTL is the inactivity window after which an active thread
// disappears from Load. Audit records are unaffected.
const DefaultActiveTTL = 24 * time.Hour

// Record is one persisted message.
type Record struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	FunctionCall string `json:"function_call,omitempty"`
}

// RecordFromMessage projects an internal message for persistence.
func RecordFromMessage(msg provider.Message) Record {
	return Record{Role: msg.Role, Content: msg.Content}
}

// Store is the interface for thread persistence.
type Store interface {
	Load(ctx context.Context, threadID string) ([]Record, error)
	Append(ctx context.Context, threadID, userID string, records []Record) error
	Close(ctx context.Context, threadID string) error
}

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	ttl     time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file; ":memory:" for tests.
	Path string
	// ActiveTTL overrides the default inactivity window.
	ActiveTTL time.Duration
}

// NewSQLiteStore opens (and migrates) the thread database.
func NewSQLiteStore(cfg Config, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = "threads.db"
	}
	ttl := cfg.ActiveTTL
	if ttl <= 0 {
		ttl = DefaultActiveTTL
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open thread database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:      db,
		ttl:     ttl,
		logger:  logger.With("component", "memory"),
		nowFunc: time.Now,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS threads_active (
	thread_id     TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	last_activity TIMESTAMP NOT NULL,
	messages      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_active_last_activity ON threads_active(last_activity);

CREATE TABLE IF NOT EXISTS threads_audit (
	thread_id     TEXT NOT NULL,
	message_index INTEGER NOT NULL,
	user_id       TEXT NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	function_call TEXT,
	timestamp     TIMESTAMP NOT NULL,
	closed_at     TIMESTAMP,
	UNIQUE(thread_id, message_index)
);
CREATE INDEX IF NOT EXISTS idx_threads_audit_thread ON threads_audit(thread_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate thread database: %w", err)
	}
	return nil
}

// Load returns the ordered transcript of an active thread, or nil when the
// thread is unknown or past its inactivity window.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Record, error) {
	cutoff := s.nowFunc().Add(-s.ttl)
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM threads_active WHERE thread_id = ? AND last_activity > ?`,
		threadID, cutoff,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return records, nil
}

// Append upserts the active thread and extends its message list in one
// transaction, then inserts one audit record per message. Audit failures are
// logged and swallowed; active-view failures propagate.
func (s *SQLiteStore) Append(ctx context.Context, threadID, userID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	now := s.nowFunc()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT messages FROM threads_active WHERE thread_id = ?`, threadID,
	).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}

	var existing []Record
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &existing); err != nil {
			return fmt.Errorf("decode thread %s: %w", threadID, err)
		}
	}
	combined, err := json.Marshal(append(existing, records...))
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", threadID, err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO threads_active (thread_id, user_id, created_at, last_activity, messages)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET last_activity = excluded.last_activity, messages = excluded.messages`,
		threadID, userID, now, now, string(combined),
	)
	if err != nil {
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}

	// Audit inserts are best-effort. The index continues from the highest
	// existing index so it stays strictly monotonic per thread in append
	// order; duplicate-index conflicts are ignored.
	var baseIndex int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(message_index), -1) + 1 FROM threads_audit WHERE thread_id = ?`, threadID,
	).Scan(&baseIndex); err != nil {
		s.logger.Warn("audit index lookup failed", "thread_id", threadID, "error", err)
		baseIndex = now.UnixMilli()
	}
	for i, record := range records {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO threads_audit (thread_id, message_index, user_id, role, content, function_call, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id, message_index) DO NOTHING`,
			threadID, baseIndex+int64(i), userID, record.Role, record.Content, nullable(record.FunctionCall), now,
		)
		if err != nil {
			s.logger.Warn("audit insert failed", "thread_id", threadID, "error", err)
		}
	}
	return nil
}

// Close removes the active thread and stamps its audit records closed.
func (s *SQLiteStore) Close(ctx context.Context, threadID string) error {
	now := s.nowFunc()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads_active WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("close thread %s: %w", threadID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE threads_audit SET closed_at = ? WHERE thread_id = ? AND closed_at IS NULL`,
		now, threadID,
	); err != nil {
		s.logger.Warn("audit close stamp failed", "thread_id", threadID, "error", err)
	}
	return nil
}

// Sweep deletes active threads past the inactivity window. Their audit
// records remain.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.nowFunc().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads_active WHERE last_activity <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep threads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RunSweeper periodically removes expired active threads until the context
// is cancelled.
func (s *SQLiteStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("thread sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired threads removed", "count", n)
			}
		}
	}
}

// AuditRecord is one row of the audit projection.
type AuditRecord struct {
	ThreadID     string     `json:"thread_id"`
	MessageIndex int64      `json:"message_index"`
	UserID       string     `json:"user_id"`
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	FunctionCall string     `json:"function_call,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// AuditTrail returns the audit projection for a thread in index order.
func (s *SQLiteStore) AuditTrail(ctx context.Context, threadID string) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, message_index, user_id, role, content, COALESCE(function_call, ''), timestamp, closed_at
FROM threads_audit WHERE thread_id = ? ORDER BY message_index`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var closedAt sql.NullTime
		if err := rows.Scan(&rec.ThreadID, &rec.MessageIndex, &rec.UserID, &rec.Role, &rec.Content, &rec.FunctionCall, &rec.Timestamp, &closedAt); err != nil {
			return nil, fmt.Errorf("audit trail %s: %w", threadID, err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			rec.ClosedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CloseDB closes the underlying database.
func (s *SQLiteStore) CloseDB() error {
	return s.db.Close()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

package collector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vinayprograms/activitykit/activity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS activity_batches(
  batch_id    TEXT    PRIMARY KEY,
  events      INTEGER NOT NULL,
  received_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS activity_events(
  id          INTEGER PRIMARY KEY,
  batch_id    TEXT,
  occurred_at INTEGER NOT NULL,
  event_type  TEXT    NOT NULL,
  task_id     TEXT,
  session_id  TEXT,
  page        TEXT    NOT NULL DEFAULT '',
  user_agent  TEXT    NOT NULL DEFAULT '',
  payload     TEXT    NOT NULL CHECK (json_valid(payload)),
  trimmed     INTEGER NOT NULL DEFAULT 0,
  received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_events_task    ON activity_events(task_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activity_events_session ON activity_events(session_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_activity_events_type    ON activity_events(event_type);
`

// SQLiteStore stores events in a SQLite file. Times are unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveBatch implements Store.
func (s *SQLiteStore) SaveBatch(ctx context.Context, batchID string, events []activity.Event, receivedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if batchID != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO activity_batches(batch_id, events, received_at) VALUES(?,?,?)`,
			batchID, len(events), receivedAt.UnixMilli())
		if err != nil {
			return false, fmt.Errorf("insert batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity_events
		(batch_id, occurred_at, event_type, task_id, session_id, page, user_agent, payload, trimmed, received_at)
		VALUES(?,?,?,?,?,?,?,json(?),?,?)`)
	if err != nil {
		return false, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := encodePayload(e.Payload)
		if err != nil {
			return false, err
		}
		if _, err := stmt.ExecContext(ctx,
			nullString(batchID), e.Timestamp.UnixMilli(), string(e.Type),
			nullString(e.TaskID), nullString(e.SessionID), e.Page, e.UserAgent,
			payload, e.Trimmed(), receivedAt.UnixMilli(),
		); err != nil {
			return false, fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, q.TaskID)
	}
	if q.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(q.Type))
	}

	query := `SELECT batch_id, occurred_at, event_type, task_id, session_id, page, user_agent, payload, received_at
		FROM activity_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at, id LIMIT ?"
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			batchID, taskID, sessionID sql.NullString
			occurredAt, receivedAt     int64
			typ, page, ua, payload     string
		)
		if err := rows.Scan(&batchID, &occurredAt, &typ, &taskID, &sessionID, &page, &ua, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var p activity.Payload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out = append(out, Record{
			BatchID: batchID.String,
			Event: activity.Event{
				Timestamp: time.UnixMilli(occurredAt).UTC(),
				Type:      activity.Type(typ),
				TaskID:    taskID.String,
				SessionID: sessionID.String,
				Payload:   p,
				Page:      page,
				UserAgent: ua,
			},
			ReceivedAt: time.UnixMilli(receivedAt).UTC(),
		})
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodePayload stores a nil payload as {} like the wire format does.
func encodePayload(p activity.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"sendlater/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  recipient TEXT NOT NULL,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  attachment_name TEXT,
  attachment_type TEXT,
  attachment BLOB,
  fire_at_ms INTEGER NOT NULL,
  created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_fire_at ON tasks(fire_at_ms);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteStore struct{ db *sql.DB }

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already prepared database.
func NewSQLite(db *sql.DB) Store { return &sqliteStore{db: db} }

func (s *sqliteStore) Insert(ctx context.Context, t domain.Task) error {
	var name, ctype sql.NullString
	var content []byte
	if a := t.Attachment; a != nil {
		name = sql.NullString{String: a.Filename, Valid: true}
		ctype = sql.NullString{String: a.ContentType, Valid: true}
		content = a.Content
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id,recipient,subject,body,attachment_name,attachment_type,attachment,fire_at_ms,created_at_ms)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING
`, t.ID, t.Recipient, t.Subject, t.Body, name, ctype, content, t.FireAt.UnixMilli(), t.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	return err
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]domain.Task, []RecordError, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,recipient,subject,body,attachment_name,attachment_type,attachment,fire_at_ms,created_at_ms
FROM tasks ORDER BY fire_at_ms, id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		tasks []domain.Task
		bad   []RecordError
	)
	for rows.Next() {
		var t domain.Task
		var name, ctype sql.NullString
		var content []byte
		// Timestamps are scanned loosely so one hand-edited row cannot fail the scan.
		var fireAt, createdAt any
		if err := rows.Scan(&t.ID, &t.Recipient, &t.Subject, &t.Body, &name, &ctype, &content, &fireAt, &createdAt); err != nil {
			bad = append(bad, corrupt(t.ID, "scan: %v", err))
			continue
		}
		if t.FireAt, err = millis(fireAt); err != nil {
			bad = append(bad, corrupt(t.ID, "fire_at_ms: %v", err))
			continue
		}
		if t.CreatedAt, err = millis(createdAt); err != nil {
			bad = append(bad, corrupt(t.ID, "created_at_ms: %v", err))
			continue
		}
		if name.Valid {
			t.Attachment = &domain.Attachment{Filename: name.String, ContentType: ctype.String, Content: content}
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return tasks, bad, nil
}

func (s *sqliteStore) LoadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tasks ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// millis decodes a stored Unix millisecond value.
func millis(v any) (time.Time, error) {
	switch v := v.(type) {
	case int64:
		return time.UnixMilli(v), nil
	case string:
		return parseMillis(v)
	case []byte:
		return parseMillis(string(v))
	default:
		return time.Time{}, fmt.Errorf("unexpected %T value", v)
	}
}

func parseMillis(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("not an integer: %q", s)
	}
	return time.UnixMilli(n), nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"sendlater/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sendlater_tasks (
  id TEXT PRIMARY KEY,
  recipient TEXT NOT NULL,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  attachment_name TEXT,
  attachment_type TEXT,
  attachment BYTEA,
  fire_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sendlater_tasks_fire_at ON sendlater_tasks(fire_at);
`

type postgresStore struct{ pool *pgxpool.Pool }

// OpenPostgres connects a pgx pool to dsn and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Insert(ctx context.Context, t domain.Task) error {
	var name, ctype *string
	var content []byte
	if a := t.Attachment; a != nil {
		name, ctype, content = &a.Filename, &a.ContentType, a.Content
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO sendlater_tasks (id,recipient,subject,body,attachment_name,attachment_type,attachment,fire_at,created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Recipient, t.Subject, t.Body, name, ctype, content, t.FireAt.UTC(), t.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sendlater_tasks WHERE id=$1", id)
	return err
}

func (s *postgresStore) LoadAll(ctx context.Context) ([]domain.Task, []RecordError, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id,recipient,subject,body,attachment_name,attachment_type,attachment,fire_at,created_at
FROM sendlater_tasks ORDER BY fire_at, id`)
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
		var name, ctype *string
		var content []byte
		// pgtype keeps infinity timestamps from failing the whole scan.
		var fireAt, createdAt pgtype.Timestamptz
		if err := rows.Scan(&t.ID, &t.Recipient, &t.Subject, &t.Body, &name, &ctype, &content, &fireAt, &createdAt); err != nil {
			return nil, nil, err
		}
		if !fireAt.Valid || fireAt.InfinityModifier != pgtype.Finite {
			bad = append(bad, corrupt(t.ID, "fire_at is not a finite timestamp"))
			continue
		}
		if name != nil {
			a := &domain.Attachment{Filename: *name, Content: content}
			if ctype != nil {
				a.ContentType = *ctype
			}
			t.Attachment = a
		}
		t.FireAt = fireAt.Time
		if createdAt.Valid && createdAt.InfinityModifier == pgtype.Finite {
			t.CreatedAt = createdAt.Time
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return tasks, bad, nil
}

func (s *postgresStore) LoadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM sendlater_tasks ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

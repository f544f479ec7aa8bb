// Package store persists pending tasks. The store is the source of truth for
// which tasks still have to fire; the in-memory timers are rebuilt from it at
// startup.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sendlater/internal/domain"
)

var (
	ErrDuplicate     = errors.New("task id already stored")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrCorruptRecord = errors.New("corrupt task record")
)

// RecordError describes one persisted record that could not be decoded.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

func corrupt(id string, format string, args ...any) RecordError {
	return RecordError{ID: id, Err: fmt.Errorf("%w: %s", ErrCorruptRecord, fmt.Sprintf(format, args...))}
}

// Store is a keyed collection of task records. Implementations must make a
// single Insert or Delete atomic.
type Store interface {
	Insert(ctx context.Context, t domain.Task) error
	// Delete removes the record for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// LoadAll returns every decodable record ordered by fire time. Records
	// that do not decode are returned separately; only a failed scan is an
	// error.
	LoadAll(ctx context.Context) ([]domain.Task, []RecordError, error)
	// LoadIDs lists the ids of all persisted records, decodable or not,
	// without reading their contents.
	LoadIDs(ctx context.Context) ([]string, error)
	Close() error
}

type Config struct {
	Driver      string `yaml:"driver"` // sqlite | redis | postgres | memory
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`
	RedisKey    string `yaml:"redis_key"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Open connects the configured driver and prepares its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisKey)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

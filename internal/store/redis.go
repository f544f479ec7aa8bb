package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"sendlater/internal/domain"
)

const defaultRedisKey = "sendlater:tasks"

// redisStore keeps every task as one field of a single hash, so insert and
// delete are single atomic commands.
type redisStore struct {
	client redis.UniversalClient
	key    string
}

type redisRecord struct {
	ID             string `json:"id"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	Attachment     []byte `json:"attachment,omitempty"`
	HasAttachment  bool   `json:"has_attachment,omitempty"`
	FireAtMs       int64  `json:"fire_at_ms"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// OpenRedis connects to url (redis:// or rediss://) and verifies the
// connection.
func OpenRedis(ctx context.Context, url, key string) (Store, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, key), nil
}

// NewRedis wraps an existing client. An empty key selects the default hash.
func NewRedis(client redis.UniversalClient, key string) Store {
	if key == "" {
		key = defaultRedisKey
	}
	return &redisStore{client: client, key: key}
}

func (s *redisStore) Insert(ctx context.Context, t domain.Task) error {
	rec := redisRecord{
		ID:          t.ID,
		Recipient:   t.Recipient,
		Subject:     t.Subject,
		Body:        t.Body,
		FireAtMs:    t.FireAt.UnixMilli(),
		CreatedAtMs: t.CreatedAt.UnixMilli(),
	}
	if a := t.Attachment; a != nil {
		rec.HasAttachment = true
		rec.AttachmentName = a.Filename
		rec.AttachmentType = a.ContentType
		rec.Attachment = a.Content
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.HSetNX(ctx, s.key, t.ID, b).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *redisStore) LoadAll(ctx context.Context) ([]domain.Task, []RecordError, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis hgetall: %w", err)
	}

	tasks := make([]domain.Task, 0, len(fields))
	var bad []RecordError
	for field, raw := range fields {
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			bad = append(bad, corrupt(field, "decode: %v", err))
			continue
		}
		if rec.ID != field {
			bad = append(bad, corrupt(field, "stored under %q", rec.ID))
			continue
		}
		t := domain.Task{
			ID:        rec.ID,
			Recipient: rec.Recipient,
			Subject:   rec.Subject,
			Body:      rec.Body,
			FireAt:    time.UnixMilli(rec.FireAtMs),
			CreatedAt: time.UnixMilli(rec.CreatedAtMs),
		}
		if rec.HasAttachment {
			t.Attachment = &domain.Attachment{
				Filename:    rec.AttachmentName,
				ContentType: rec.AttachmentType,
				Content:     rec.Attachment,
			}
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].FireAt.Equal(tasks[j].FireAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].FireAt.Before(tasks[j].FireAt)
	})
	sort.Slice(bad, func(i, j int) bool { return bad[i].ID < bad[j].ID })
	return tasks, bad, nil
}

func (s *redisStore) LoadIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	s, err := OpenRedis(context.Background(), url, "sendlater:test:"+t.Name())
	require.NoError(t, err)
	rs := s.(*redisStore)
	t.Cleanup(func() {
		_ = rs.client.Del(context.Background(), rs.key).Err()
		_ = s.Close()
	})

	runContract(t, s)

	ctx := context.Background()
	require.NoError(t, rs.client.HSet(ctx, rs.key, "tsk_bad", "{not json").Err())
	got, bad, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, bad, 1)
	require.Equal(t, "tsk_bad", bad[0].ID)
	require.ErrorIs(t, bad[0], ErrCorruptRecord)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	s, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	ps := s.(*postgresStore)
	_, err = ps.pool.Exec(context.Background(), "TRUNCATE sendlater_tasks")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runContract(t, s)
}

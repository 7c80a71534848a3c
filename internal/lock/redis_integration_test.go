//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"docvault/internal/docerr"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := startRedis(t)
	ctx := context.Background()
	locker := NewRedis(client, 2*time.Second)

	lease, err := locker.Acquire(ctx, lineage)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, lineage)
	assert.ErrorIs(t, err, docerr.ErrLineageConflict)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, lineage)
	require.NoError(t, err)
	defer again.Release(ctx)
}

func TestRedisLease_ExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := startRedis(t)
	ctx := context.Background()

	stale, err := NewRedis(client, 100*time.Millisecond).Acquire(ctx, lineage)
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)

	fresh, err := NewRedis(client, 5*time.Second).Acquire(ctx, lineage)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	exists, err := client.Exists(ctx, Key(lineage)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, fresh.Release(ctx))
}

package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

// newRedisClient connects to a local Redis and skips the test when none is running.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}

	return client
}

// TestNewRedisRepository_DefaultKey verifies the default hash key.
func TestNewRedisRepository_DefaultKey(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer func() {
		_ = client.Close()
	}()

	require.Equal(t, DefaultRedisKey, NewRedisRepository(client, "").key)
	require.Equal(t, "custom", NewRedisRepository(client, "custom").key)
}

// TestRedisRepository_Integration saves, loads and deletes alarms against a real Redis.
func TestRedisRepository_Integration(t *testing.T) {
	t.Parallel()

	client := newRedisClient(t)
	ctx := context.Background()
	hashKey := "alarm-sink:test:" + t.Name()
	repo := NewRedisRepository(client, hashKey)

	t.Cleanup(func() {
		_ = client.Del(context.Background(), hashKey).Err()
	})

	_, err := repo.LoadAll(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	foo := newTestAlarm("foo")
	bar := newTestAlarm("bar")
	require.NoError(t, repo.Save(ctx, foo))
	require.NoError(t, repo.Save(ctx, bar))

	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []*domain.Alarm{foo, bar}, got)

	require.NoError(t, repo.Delete(ctx, []domain.Key{foo.Key}))

	got, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, bar.Key, got[0].Key)
}

// TestRedisRepository_RejectsAmbiguousKeys checks the key is validated before any command is sent.
func TestRedisRepository_RejectsAmbiguousKeys(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer func() {
		_ = client.Close()
	}()

	repo := NewRedisRepository(client, "")
	a := domain.New(domain.Key{Device: "a\x1fb", ManagedObject: "c", Type: "test-alarm"})

	require.ErrorIs(t, repo.Save(context.Background(), a), domain.ErrMalformedKey)
}

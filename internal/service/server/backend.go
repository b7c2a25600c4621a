package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oshokin/alarm-sink/internal/config"
	"github.com/oshokin/alarm-sink/internal/logger"
	"github.com/oshokin/alarm-sink/internal/repository/inventory"
)

// openRepository builds the inventory backend selected in settings.
// The memory backend returns a nil repository. The returned close function is never nil.
func openRepository(
	ctx context.Context,
	storage *config.Storage,
	timeout time.Duration,
) (inventory.Repository, func() error, error) {
	noop := func() error { return nil }

	switch storage.Backend {
	case config.BackendMemory:
		logger.Warn(ctx, "Alarm inventory is kept in memory only")

		return nil, noop, nil
	case config.BackendFile, "":
		logger.InfoKV(ctx, "Using file inventory", "state_file", storage.StateFile)

		return inventory.NewFileRepository(storage.StateFile), noop, nil
	case config.BackendPostgres:
		db, err := inventory.OpenPostgres(ctx, storage.PostgresDSN, timeout)
		if err != nil {
			return nil, noop, err
		}

		repo := inventory.NewPostgresRepository(db, storage.TablePrefix)
		if err = repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()

			return nil, noop, err
		}

		logger.InfoKV(ctx, "Using postgres inventory", "table_prefix", storage.TablePrefix)

		return repo, db.Close, nil
	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{storage.RedisAddress},
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()

			return nil, noop, fmt.Errorf("ping redis %s: %w", storage.RedisAddress, err)
		}

		key := storage.RedisKey
		if key == "" {
			key = inventory.DefaultRedisKey
		}

		logger.InfoKV(ctx, "Using redis inventory", "redis_addr", storage.RedisAddress, "redis_key", key)

		return inventory.NewRedisRepository(client, key), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", storage.Backend)
	}
}

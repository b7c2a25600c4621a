package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// DefaultRedisKey is the hash holding the inventory when no key is configured.
const DefaultRedisKey = "alarm-sink:inventory"

// RedisRepository stores each alarm as a protojson document in one Redis hash.
// The hash field is Key.String(), so a save is a single HSET.
type RedisRepository struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRepository creates a repository over the given client and hash key.
func NewRedisRepository(client redis.UniversalClient, key string) *RedisRepository {
	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisRepository{
		client: client,
		key:    key,
	}
}

// LoadAll reads every alarm in the hash.
func (r *RedisRepository) LoadAll(ctx context.Context) ([]*domain.Alarm, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read inventory hash: %w", err)
	}

	if len(values) == 0 {
		return nil, ErrNotFound
	}

	result := make([]*domain.Alarm, 0, len(values))

	for field, value := range values {
		a, err := wire.UnmarshalAlarm([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("decode alarm %q: %w", field, err)
		}

		result = append(result, a)
	}

	return result, nil
}

// Save writes the alarm document.
func (r *RedisRepository) Save(ctx context.Context, alarm *domain.Alarm) error {
	if err := alarm.Key.Validate(); err != nil {
		return err
	}

	data, err := wire.MarshalAlarm(alarm)
	if err != nil {
		return err
	}

	if err = r.client.HSet(ctx, r.key, alarm.Key.String(), data).Err(); err != nil {
		return fmt.Errorf("write alarm %s: %w", alarm.Key, err)
	}

	return nil
}

// Delete removes the alarm documents.
func (r *RedisRepository) Delete(ctx context.Context, keys []domain.Key) error {
	if len(keys) == 0 {
		return nil
	}

	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, key.String())
	}

	if err := r.client.HDel(ctx, r.key, fields...).Err(); err != nil {
		return fmt.Errorf("delete alarms: %w", err)
	}

	return nil
}

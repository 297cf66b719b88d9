package pending

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/afikmenashe/security-alerting/internal/alert"
)

// DefaultRedisKey is the hash holding pending records.
const DefaultRedisKey = "security-alerts:pending"

// RedisStore keeps records as fields of a single Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store on an existing client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Put writes the record.
func (s *RedisStore) Put(ctx context.Context, id uint64, ev alert.Event) error {
	if err := s.client.HSet(ctx, s.key, strconv.FormatUint(id, 10), Marshal(ev)).Err(); err != nil {
		return fmt.Errorf("failed to store pending record: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *RedisStore) Delete(ctx context.Context, id uint64) error {
	if err := s.client.HDel(ctx, s.key, strconv.FormatUint(id, 10)).Err(); err != nil {
		return fmt.Errorf("failed to delete pending record: %w", err)
	}
	return nil
}

// List returns every record in id order.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}

	records := make([]Record, 0, len(fields))
	for field, payload := range fields {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		records = append(records, decodeRecord(id, []byte(payload)))
	}

	sortRecords(records)
	return records, nil
}

// Package statestore mirrors circuit breaker status into a shared store so
// sibling gateway instances and external dashboards can see provider health
// without hitting the admin API of every instance. Writes are best-effort and
// happen on a background loop, never on the request path.
package statestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/modelrelay/modelrelay/internal/resilience"
)

// breakersKey is the Redis hash holding one field per provider.
const breakersKey = "modelrelay:breakers"

// Store persists breaker status snapshots.
type Store interface {
	// WriteStatuses replaces the stored snapshot.
	WriteStatuses(ctx context.Context, statuses []resilience.BreakerStatus) error
	// ReadStatuses returns the last stored snapshot.
	ReadStatuses(ctx context.Context) ([]resilience.BreakerStatus, error)
	// Close releases the store's resources.
	Close() error
}

// RedisStore keeps the snapshot in a Redis hash keyed by provider.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// WriteStatuses replaces the hash with the current snapshot in one pipeline,
// so a provider removed from config does not linger in the store.
func (s *RedisStore) WriteStatuses(ctx context.Context, statuses []resilience.BreakerStatus) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, breakersKey)
	if len(statuses) > 0 {
		fields := make(map[string]any, len(statuses))
		for _, st := range statuses {
			data, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("marshal breaker status: %w", err)
			}
			fields[st.Provider] = data
		}
		pipe.HSet(ctx, breakersKey, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write breaker statuses: %w", err)
	}
	return nil
}

// ReadStatuses returns the stored snapshot, sorted by provider via the
// deterministic field iteration below.
func (s *RedisStore) ReadStatuses(ctx context.Context) ([]resilience.BreakerStatus, error) {
	fields, err := s.client.HGetAll(ctx, breakersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read breaker statuses: %w", err)
	}
	statuses := make([]resilience.BreakerStatus, 0, len(fields))
	for _, raw := range fields {
		var st resilience.BreakerStatus
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode breaker status: %w", err)
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Provider < statuses[j].Provider
	})
	return statuses, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

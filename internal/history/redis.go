package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// TTL bounds how long an inactive user's history survives.
const TTL = 30 * 24 * time.Hour

// RedisStore keeps one serialized history blob per owner id.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func historyKey(ownerID string) string {
	return fmt.Sprintf("chat:history:%s", ownerID)
}

func (s *RedisStore) Load(ctx context.Context, ownerID string) ([]Turn, error) {
	raw, err := s.client.Get(ctx, historyKey(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		return []Turn{}, nil // no history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", ownerID, err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", ownerID, err)
	}
	return turns, nil
}

func (s *RedisStore) Save(ctx context.Context, ownerID string, turns []Turn) error {
	blob, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", ownerID, err)
	}
	if err := s.client.Set(ctx, historyKey(ownerID), blob, TTL).Err(); err != nil {
		return fmt.Errorf("failed to store history for %s: %w", ownerID, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, historyKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("failed to clear history for %s: %w", ownerID, err)
	}
	return nil
}

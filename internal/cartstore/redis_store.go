package cartstore

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cloudquote/backend/internal/domain"
)

const keyPrefix = "cart:snapshot:"

// RedisSnapshotStore keeps cart snapshots in redis with a TTL, so an abandoned
// session's cart survives process restarts but eventually ages out.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotStore(addr string, password string, db int, ttl time.Duration) *RedisSnapshotStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}

	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func (s *RedisSnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}

func (s *RedisSnapshotStore) Save(ctx context.Context, sessionID string, lines []domain.CartLine) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+sessionID, payload, s.ttl).Err()
}

func (s *RedisSnapshotStore) Load(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	val, err := s.client.Get(ctx, keyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []domain.CartLine
	if err := json.Unmarshal([]byte(val), &lines); err != nil {
		// A corrupt snapshot must degrade to an empty cart, never fail the session.
		log.Printf("[cartstore] WARN: dropping corrupt snapshot for session %s: %v", sessionID, err)
		return nil, nil
	}
	return lines, nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

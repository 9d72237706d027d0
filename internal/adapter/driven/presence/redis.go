package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares connection state through a Redis hash so other local
// processes can see whether this client is online.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore builds a store under prefix (default "loopync").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "loopync"
	}
	return &RedisStore{rdb: rdb, key: fmt.Sprintf("%s:presence", p)}
}

// Dial connects to the Redis server at url (redis://host:port/db) and pings it.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) SetState(ctx context.Context, userID domain.UserID, state domain.ConnState) error {
	return s.rdb.HSet(ctx, s.key, userID.String(), string(state)).Err()
}

func (s *RedisStore) State(ctx context.Context, userID domain.UserID) (domain.ConnState, error) {
	v, err := s.rdb.HGet(ctx, s.key, userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ConnDisconnected, nil
	}
	if err != nil {
		return "", err
	}
	return domain.ConnState(v), nil
}

// Remove deletes userID's entry, leaving other users in the shared hash.
func (s *RedisStore) Remove(ctx context.Context, userID domain.UserID) error {
	return s.rdb.HDel(ctx, s.key, userID.String()).Err()
}

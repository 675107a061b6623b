package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	namespace    = "foire:v1:idem"
	lockValue    = "LOCK"
	resultPrefix = "RES:"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings with a short deadline.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Key scopes an idempotency key, e.g. Key("payment", "wave", orderID).
func Key(scope string, parts ...string) string {
	clean := make([]string, 0, len(parts)+2)
	clean = append(clean, namespace, scope)
	for _, part := range parts {
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}

// Store holds either an in-flight lock or a finished result under one key.
// A saved result replaces the lock.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, resultTTL time.Duration) *Store {
	return &Store{rdb: rdb, ttl: resultTTL}
}

func (s *Store) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

func (s *Store) SaveResult(ctx context.Context, key, payload string) error {
	return s.rdb.Set(ctx, key, resultPrefix+payload, s.ttl).Err()
}

func (s *Store) GetResult(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if payload, ok := strings.CutPrefix(v, resultPrefix); ok {
		return payload, true, nil
	}
	return "", false, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
)

// RedisKeyPrefix namespaces result keys.
const RedisKeyPrefix = "stt_result:"

// RedisStore keeps results as JSON strings that expire after the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) PutResult(ctx context.Context, key string, res jobapi.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", key, err)
	}
	if err := s.client.Set(ctx, RedisKeyPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("put result %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) GetResult(ctx context.Context, key string) (jobapi.Result, error) {
	payload, err := s.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return jobapi.Result{}, ErrNotFound
	}
	if err != nil {
		return jobapi.Result{}, fmt.Errorf("get result %s: %w", key, err)
	}

	var res jobapi.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return jobapi.Result{}, fmt.Errorf("decode result %s: %w", key, err)
	}
	return res, nil
}

func (s *RedisStore) DeleteResult(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, RedisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete result %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisResultPrefix = "loopnote:result:"
	redisResultIndex  = "loopnote:results"
	redisResultTTL    = 24 * time.Hour
)

// RedisResults stores processing results in Redis so status polling survives
// a process restart and can be served by any instance. A sorted set scored by
// queue time preserves the eviction order the in-memory table uses.
type RedisResults struct {
	client *redis.Client
}

func NewRedisResults(redisURL string) (*RedisResults, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisResults{client: client}, nil
}

// NewRedisResultsWithClient creates a store from an existing client.
func NewRedisResultsWithClient(client *redis.Client) *RedisResults {
	return &RedisResults{client: client}
}

func (s *RedisResults) key(requestID string) string {
	return redisResultPrefix + requestID
}

func (s *RedisResults) Put(ctx context.Context, requestID string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(requestID), data, redisResultTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if err := s.client.ZAdd(ctx, redisResultIndex, redis.Z{
		Score:  float64(result.QueuedAt.UnixNano()),
		Member: requestID,
	}).Err(); err != nil {
		return fmt.Errorf("index result: %w", err)
	}
	return nil
}

func (s *RedisResults) Get(ctx context.Context, requestID string) (Result, bool, error) {
	data, err := s.client.Get(ctx, s.key(requestID)).Result()
	if err == redis.Nil {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("load result: %w", err)
	}
	var result Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return Result{}, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, true, nil
}

func (s *RedisResults) Delete(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, s.key(requestID)).Err(); err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if err := s.client.ZRem(ctx, redisResultIndex, requestID).Err(); err != nil {
		return fmt.Errorf("unindex result: %w", err)
	}
	return nil
}

// Trim removes the oldest entries (by queue time) beyond max.
func (s *RedisResults) Trim(ctx context.Context, max int) error {
	total, err := s.client.ZCard(ctx, redisResultIndex).Result()
	if err != nil {
		return fmt.Errorf("count results: %w", err)
	}
	excess := total - int64(max)
	if excess <= 0 {
		return nil
	}

	oldest, err := s.client.ZRange(ctx, redisResultIndex, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("list oldest results: %w", err)
	}
	for _, id := range oldest {
		if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
			return fmt.Errorf("evict result %s: %w", id, err)
		}
	}
	if err := s.client.ZRemRangeByRank(ctx, redisResultIndex, 0, excess-1).Err(); err != nil {
		return fmt.Errorf("trim result index: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisResults) Close() error {
	return s.client.Close()
}

// Ping checks whether Redis is reachable.
func (s *RedisResults) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

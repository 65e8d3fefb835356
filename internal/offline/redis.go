package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisGenerationsKey = "qssma:cache:generations"
	redisEntriesPrefix  = "qssma:cache:gen:"
)

// RedisStorage keeps one hash per generation plus a set of generation
// names, so a kiosk restart keeps its offline shell.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

func (r *RedisStorage) Put(ctx context.Context, generation, key string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, redisGenerationsKey, generation)
	pipe.HSet(ctx, redisEntriesPrefix+generation, key, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put %s in %s: %w", key, generation, err)
	}
	return nil
}

func (r *RedisStorage) Get(ctx context.Context, generation, key string) (*Entry, error) {
	raw, err := r.client.HGet(ctx, redisEntriesPrefix+generation, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s from %s: %w", key, generation, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &e, nil
}

func (r *RedisStorage) Generations(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, redisGenerationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

func (r *RedisStorage) DeleteGeneration(ctx context.Context, generation string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisEntriesPrefix+generation)
	pipe.SRem(ctx, redisGenerationsKey, generation)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete generation %s: %w", generation, err)
	}
	return nil
}

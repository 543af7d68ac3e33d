package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/bargom/hookrelay/internal/webhook"
)

const defaultRedisKey = "hookrelay:webhook_state"

// RedisRepo stores webhook statuses in a single redis hash: field is
// the webhook id, value the JSON-encoded status.
type RedisRepo struct {
	client *redis.Client
	key    string
}

// NewRedisRepo connects to redis using the configured URL.
func NewRedisRepo(cfg Config) (*RedisRepo, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	key := cfg.RedisKey
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisRepo{
		client: redis.NewClient(opts),
		key:    key,
	}, nil
}

// Get returns the stored status for the webhook, or ErrNotFound.
func (r *RedisRepo) Get(ctx context.Context, id webhook.ID) (webhook.Status, error) {
	raw, err := r.client.HGet(ctx, r.key, field(id)).Result()
	if errors.Is(err, redis.Nil) {
		return webhook.Status{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return webhook.Status{}, fmt.Errorf("redis hget: %w", err)
	}

	var status webhook.Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return webhook.Status{}, fmt.Errorf("webhook %d: decoding state entry: %w", id, err)
	}
	return status, nil
}

// Set stores the status for the webhook.
func (r *RedisRepo) Set(ctx context.Context, id webhook.ID, status webhook.Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("webhook %d: encoding state entry: %w", id, err)
	}
	if err := r.client.HSet(ctx, r.key, field(id), raw).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete removes the webhook's entry.
func (r *RedisRepo) Delete(ctx context.Context, id webhook.ID) error {
	if err := r.client.HDel(ctx, r.key, field(id)).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// List returns all stored entries.
func (r *RedisRepo) List(ctx context.Context) (map[webhook.ID]webhook.Status, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	out := make(map[webhook.ID]webhook.Status, len(raw))
	for f, v := range raw {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding state field %q: %w", f, err)
		}
		var status webhook.Status
		if err := json.Unmarshal([]byte(v), &status); err != nil {
			return nil, fmt.Errorf("webhook %d: decoding state entry: %w", id, err)
		}
		out[webhook.ID(id)] = status
	}
	return out, nil
}

// Close releases the redis connection.
func (r *RedisRepo) Close() error {
	return r.client.Close()
}

// Ping verifies the connection. Used by the readiness check.
func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func field(id webhook.ID) string {
	return strconv.FormatInt(int64(id), 10)
}

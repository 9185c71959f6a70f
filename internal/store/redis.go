package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sitwo-project/clinic-portal/internal/model"
)

// RedisStore keeps credentials in redis, for deployments where the portal
// runs as a kiosk-style shared client. Both keys are written in one
// transactional pipeline so readers never observe a half-updated pair.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	URL    string
	Prefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "clinic-portal"
	}
	return &RedisStore{client: redis.NewClient(opts), prefix: prefix}, nil
}

// NewRedisStoreWithClient is used by tests to inject a miniredis-backed client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "clinic-portal"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) Load(ctx context.Context) (*model.Credentials, error) {
	vals, err := s.client.MGet(ctx, s.key(KeyToken), s.key(KeyIdentity)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	token, ok := vals[0].(string)
	if !ok || token == "" {
		return nil, ErrNoCredentials
	}
	raw, ok := vals[1].(string)
	if !ok || raw == "" {
		return nil, ErrNoCredentials
	}

	var identity model.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, fmt.Errorf("failed to decode stored identity: %w", err)
	}
	return &model.Credentials{Token: token, Identity: &identity}, nil
}

func (s *RedisStore) Save(ctx context.Context, creds *model.Credentials) error {
	raw, err := json.Marshal(creds.Identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(KeyToken), creds.Token, 0)
	pipe.Set(ctx, s.key(KeyIdentity), raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(KeyToken), s.key(KeyIdentity)).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/redis/go-redis/v9"
)

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	// KeyPrefix namespaces snapshot keys so several deployments can share one
	// Redis instance.
	KeyPrefix string
	// TTL expires snapshots after the given duration. Zero means no expiry.
	TTL      time.Duration
	Password string
	DB       int
}

// RedisStore persists snapshots in Redis for distributed deployments where
// several coordinator processes share session state.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore(addr string, optFns ...func(o *RedisStoreOptions)) (*RedisStore, error) {
	opts := RedisStoreOptions{
		KeyPrefix: "agentcouncil:snapshot:",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %q: %w", addr, err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		ttl:       opts.TTL,
	}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Save implements SnapshotStore.
func (s *RedisStore) Save(ctx context.Context, sessionID string, data []byte) error {
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %q: %w", sessionID, err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *RedisStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &core.NotFoundError{Kind: "snapshot", Name: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", sessionID, err)
	}
	return data, nil
}

// Delete implements SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", sessionID, err)
	}
	return nil
}

// Close implements SnapshotStore.
func (s *RedisStore) Close() error { return s.client.Close() }

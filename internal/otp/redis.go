package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "jotter:otp:"

// compareAndDelete removes the key only when it still holds the submitted code.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Client    redis.UniversalClient
	KeyPrefix string
	// TTL bounds how long a code stays valid. Zero keeps codes until consumed or overwritten.
	TTL       time.Duration
	Generator CodeGenerator
}

// RedisStore shares outstanding codes between API replicas.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	generator CodeGenerator
}

// NewRedisStore constructs a store on top of an existing client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("otp: redis client required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	generator := cfg.Generator
	if generator == nil {
		generator = GenerateCode
	}
	return &RedisStore{
		client:    cfg.Client,
		prefix:    prefix,
		ttl:       cfg.TTL,
		generator: generator,
	}, nil
}

// Issue stores a fresh code for the email, replacing any outstanding one.
func (s *RedisStore) Issue(ctx context.Context, email string) (string, error) {
	key := normalizeEmail(email)
	if key == "" {
		return "", ErrInvalidEmail
	}
	code, err := s.generator()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.prefix+key, code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("otp: store code: %w", err)
	}
	return code, nil
}

// Verify atomically consumes the stored code when it matches.
func (s *RedisStore) Verify(ctx context.Context, email, code string) (bool, error) {
	key := normalizeEmail(email)
	if key == "" || code == "" {
		return false, nil
	}
	deleted, err := compareAndDelete.Run(ctx, s.client, []string{s.prefix + key}, code).Int()
	if err != nil {
		return false, fmt.Errorf("otp: verify code: %w", err)
	}
	return deleted == 1, nil
}

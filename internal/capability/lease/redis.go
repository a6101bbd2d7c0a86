// Package lease implements capability.Lease over Redis, grounded on the
// teacher's features/stream/pulse/clients/pulse wrapper style: a thin
// typed interface over a caller-owned *redis.Client, exposing only the
// operations this component needs.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// release is a Lua script so the compare-token-then-delete is atomic: a
// lease must never be released by a holder that lost it to expiry and
// reacquisition by someone else.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Store implements capability.Lease against a caller-owned Redis client.
type Store struct {
	redis  *redis.Client
	prefix string
}

// New constructs a Store. keyPrefix namespaces all lease and idempotency
// keys (e.g. "leadengine:lease:") to avoid collisions with other Redis
// tenants of the same cluster.
func New(client *redis.Client, keyPrefix string) *Store {
	return &Store{redis: client, prefix: keyPrefix}
}

var _ capability.Lease = (*Store)(nil)

func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, fmt.Errorf("lease: generate token: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, s.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *Store) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := s.redis.Eval(ctx, renewScript, []string{s.prefix + key}, token, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("lease: renew %s: %w", key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *Store) Release(ctx context.Context, key, token string) error {
	_, err := s.redis.Eval(ctx, releaseScript, []string{s.prefix + key}, token).Result()
	if err != nil {
		return fmt.Errorf("lease: release %s: %w", key, err)
	}
	return nil
}

// MarkDelivered uses SETNX on an idempotency namespace distinct from the
// lease namespace so lease keys and delivery-dedupe keys never collide even
// if a caller reuses the same logical identifier for both.
func (s *Store) MarkDelivered(ctx context.Context, idempotencyKey string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.prefix+"delivered:"+idempotencyKey, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: mark delivered %s: %w", idempotencyKey, err)
	}
	return ok, nil
}

var errShortRead = errors.New("lease: short random read")

func randomToken() (string, error) {
	buf := make([]byte, 16)
	n, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	if n != len(buf) {
		return "", errShortRead
	}
	return hex.EncodeToString(buf), nil
}

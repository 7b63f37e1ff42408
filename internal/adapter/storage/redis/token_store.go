package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

const tokenKey = "upstream:access_token"

// TokenStore implements ports.TokenStore using a single Redis key. The
// slot is shared across instances; concurrent refreshes last-write-win,
// which is acceptable because tokens are fungible.
type TokenStore struct {
	client *goredis.Client
}

// NewTokenStore creates a Redis-backed token slot.
func NewTokenStore(client *goredis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Get retrieves the cached token. Returns nil, nil when the slot is empty.
func (s *TokenStore) Get(ctx context.Context) (*ports.CachedToken, error) {
	val, err := s.client.Get(ctx, tokenKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis token get: %w", err)
	}

	var token ports.CachedToken
	if err := json.Unmarshal(val, &token); err != nil {
		return nil, fmt.Errorf("unmarshal cached token: %w", err)
	}
	return &token, nil
}

// Set replaces the slot wholesale. The Redis TTL mirrors expiresAt so a
// crashed process never leaves a permanently stale token behind.
func (s *TokenStore) Set(ctx context.Context, token ports.CachedToken) error {
	val, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal cached token: %w", err)
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, tokenKey, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis token set: %w", err)
	}
	return nil
}

// Clear empties the slot.
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, tokenKey).Err(); err != nil {
		return fmt.Errorf("redis token clear: %w", err)
	}
	return nil
}

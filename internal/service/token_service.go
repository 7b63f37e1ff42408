package service

import (
	"context"
	"time"

	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"

	"github.com/rs/zerolog"
)

// TokenCacheService implements ports.TokenProvider. It serves the shared
// token slot and refreshes lazily: there is no background refresh, the
// first request after expiry pays the exchange cost.
type TokenCacheService struct {
	gateway ports.PushGateway
	store   ports.TokenStore
	margin  time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewTokenCacheService creates a token cache with the given safety margin.
// A token within margin of its expiry is treated as already expired.
func NewTokenCacheService(gateway ports.PushGateway, store ports.TokenStore, margin time.Duration, log zerolog.Logger) *TokenCacheService {
	return &TokenCacheService{
		gateway: gateway,
		store:   store,
		margin:  margin,
		log:     log,
		now:     time.Now,
	}
}

// GetToken returns a valid bearer token, refreshing when needed. On
// exchange failure the slot is cleared, never left stale, and the caller
// must not proceed with a payment request.
func (s *TokenCacheService) GetToken(ctx context.Context) (string, error) {
	cached, err := s.store.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("token store read failed, refreshing from upstream")
	} else if cached != nil && s.now().Before(cached.ExpiresAt) {
		return cached.Token, nil
	}

	token, ttl, err := s.gateway.RequestToken(ctx)
	if err != nil {
		if clearErr := s.store.Clear(ctx); clearErr != nil {
			s.log.Warn().Err(clearErr).Msg("failed to clear token slot after exchange failure")
		}
		return "", apperror.ErrUpstreamAuthFailure(err)
	}

	expiresAt := s.now().Add(ttl - s.margin)
	if err := s.store.Set(ctx, ports.CachedToken{Token: token, ExpiresAt: expiresAt}); err != nil {
		// Token is still usable for this call even if caching failed.
		s.log.Warn().Err(err).Msg("failed to cache upstream token")
	}

	s.log.Debug().Time("expires_at", expiresAt).Msg("upstream token refreshed")
	return token, nil
}

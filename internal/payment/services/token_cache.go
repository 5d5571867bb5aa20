package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// PagoTICTokenKey is where the shared access token lives in Redis
	PagoTICTokenKey = "pagotic:access_token"
	// TokenExpiryBuffer treats a token as expired this long before it really is
	TokenExpiryBuffer = 60 * time.Second
)

// CachedToken is an access token with its absolute expiry.
type CachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (tc *CachedToken) validAt(now time.Time) bool {
	return tc != nil && tc.Token != "" && now.Add(TokenExpiryBuffer).Before(tc.ExpiresAt)
}

// SharedTokenCache lets replicas reuse one provider token.
type SharedTokenCache interface {
	GetToken(ctx context.Context) (*CachedToken, error)
	SetToken(ctx context.Context, token CachedToken) error
}

// RedisTokenCache implements SharedTokenCache on Redis
type RedisTokenCache struct {
	Client *redis.Client
	Key    string
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{Client: client, Key: PagoTICTokenKey}
}

func (c *RedisTokenCache) GetToken(ctx context.Context) (*CachedToken, error) {
	raw, err := c.Client.Get(ctx, c.Key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tc CachedToken
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}
	if !tc.validAt(time.Now()) {
		return nil, nil
	}
	return &tc, nil
}

func (c *RedisTokenCache) SetToken(ctx context.Context, token CachedToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.Client.Set(ctx, c.Key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}

// tokenFetcher requests a fresh token and reports its lifetime.
type tokenFetcher func(ctx context.Context) (string, time.Duration, error)

// TokenSource is a process-wide token cache. Readers never block: a stale or
// missing token triggers a refresh by whoever notices, and the last writer wins.
type TokenSource struct {
	current atomic.Pointer[CachedToken]
	revoked atomic.Pointer[string]
	fetch   tokenFetcher
	shared  SharedTokenCache
	now     func() time.Time
}

func newTokenSource(fetch tokenFetcher, shared SharedTokenCache) *TokenSource {
	return &TokenSource{
		fetch:  fetch,
		shared: shared,
		now:    time.Now,
	}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tc := s.current.Load(); tc.validAt(s.now()) {
		return tc.Token, nil
	}

	if s.shared != nil {
		if tc, err := s.shared.GetToken(ctx); err == nil && tc.validAt(s.now()) && !s.isRevoked(tc.Token) {
			s.current.Store(tc)
			return tc.Token, nil
		}
	}

	token, lifetime, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	tc := &CachedToken{Token: token, ExpiresAt: s.now().Add(lifetime)}
	s.current.Store(tc)

	if s.shared != nil {
		// Shared cache is best effort; the local copy is already usable.
		_ = s.shared.SetToken(ctx, *tc)
	}
	return token, nil
}

// Invalidate drops token if it is still the cached one. The shared copy is
// ignored until a fresh token replaces it.
func (s *TokenSource) Invalidate(token string) {
	s.revoked.Store(&token)
	if tc := s.current.Load(); tc != nil && tc.Token == token {
		s.current.CompareAndSwap(tc, nil)
	}
}

func (s *TokenSource) isRevoked(token string) bool {
	r := s.revoked.Load()
	return r != nil && *r == token
}

package auth

import (
	"context"
	"time"

	"chat-gateway-api/internal/cache"
)

// CachingVerifier memoizes successful token validations so reconnecting
// clients do not pay for a signature check on every handshake. Rejections
// are never cached.
type CachingVerifier struct {
	tokens *JWTManager
	cache  *cache.TTLCache[string, verified]
	ttl    time.Duration
}

type verified struct {
	userID    string
	expiresAt time.Time
}

// NewCachingVerifier wraps tokens. Entries live for at most ttl and never
// past the token's own expiry.
func NewCachingVerifier(tokens *JWTManager, ttl time.Duration, maxEntries int) *CachingVerifier {
	return &CachingVerifier{
		tokens: tokens,
		cache:  cache.New[string, verified](maxEntries),
		ttl:    ttl,
	}
}

// Verify returns the user ID for token, consulting the cache first.
func (v *CachingVerifier) Verify(ctx context.Context, token string) (string, error) {
	if hit, ok := v.cache.Get(token); ok {
		if hit.expiresAt.IsZero() || v.tokens.now().Before(hit.expiresAt) {
			return hit.userID, nil
		}
		v.cache.Delete(token)
	}

	claims, err := v.tokens.ValidateToken(token)
	if err != nil {
		return "", err
	}

	entry := verified{userID: claims.UserID}
	ttl := v.ttl
	if claims.ExpiresAt != nil {
		entry.expiresAt = claims.ExpiresAt.Time
		if remaining := claims.ExpiresAt.Sub(v.tokens.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		v.cache.Set(token, entry, ttl)
	}
	return claims.UserID, nil
}

// Run purges expired cache entries until ctx is done.
func (v *CachingVerifier) Run(ctx context.Context, interval time.Duration) {
	v.cache.Run(ctx, interval)
}

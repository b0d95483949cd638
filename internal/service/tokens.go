package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	cfotel "github.com/forgeapp/forgeapp/internal/adapter/otel"
	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/port/cache"
	"github.com/forgeapp/forgeapp/internal/port/tokens"
)

// DefaultExpiryMargin is subtracted from a token's lifetime so a token never
// expires mid-flight on an outbound call.
const DefaultExpiryMargin = time.Minute

// TokenService caches short-lived installation tokens keyed by installation
// id, minting a fresh one when the cached token is absent or inside the
// expiry margin. Concurrent mints for the same installation collapse into a
// single upstream call.
type TokenService struct {
	issuer  tokens.Issuer
	cache   cache.Cache
	metrics *cfotel.Metrics
	log     *slog.Logger
	margin  time.Duration
	group   singleflight.Group
	now     func() time.Time
}

// NewTokenService creates a TokenService. A zero margin falls back to
// DefaultExpiryMargin; metrics may be nil.
func NewTokenService(issuer tokens.Issuer, c cache.Cache, metrics *cfotel.Metrics, log *slog.Logger, margin time.Duration) *TokenService {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenService{
		issuer:  issuer,
		cache:   c,
		metrics: metrics,
		log:     log,
		margin:  margin,
		now:     time.Now,
	}
}

// Authenticate returns a usable token for the installation, from cache when
// fresh enough and minted upstream otherwise. Cache writes are best effort;
// a failed write only costs a re-mint on the next call.
func (s *TokenService) Authenticate(ctx context.Context, installationID int64) (*tokens.InstallationToken, error) {
	key := tokenCacheKey(installationID)

	if tok := s.cached(ctx, key); tok != nil {
		return tok, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under the flight lock; a concurrent caller may have
		// refreshed the cache while we waited.
		if tok := s.cached(ctx, key); tok != nil {
			return tok, nil
		}
		return s.mint(ctx, installationID, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tokens.InstallationToken), nil
}

func (s *TokenService) cached(ctx context.Context, key string) *tokens.InstallationToken {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("token cache read failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var tok tokens.InstallationToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		s.log.Warn("token cache entry corrupt", "key", key, "error", err)
		return nil
	}
	if tok.Expired(s.now(), s.margin) {
		return nil
	}
	return &tok
}

func (s *TokenService) mint(ctx context.Context, installationID int64, key string) (*tokens.InstallationToken, error) {
	tok, err := s.issuer.CreateInstallationToken(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("mint token for installation %d: %w", installationID, err)
	}
	if tok == nil || tok.Token == "" {
		return nil, domain.NewCoded(domain.CodeTokenNull, "issuer returned an empty token for installation %d", installationID)
	}
	if s.metrics != nil {
		s.metrics.TokenMints.Add(ctx, 1)
	}

	ttl := tok.ExpiresAt.Sub(s.now()) - s.margin
	if ttl > 0 {
		raw, err := json.Marshal(tok)
		if err == nil {
			err = s.cache.Set(ctx, key, raw, ttl)
		}
		if err != nil {
			s.log.Warn("token cache write failed", "key", key, "error", err)
		}
	}
	return tok, nil
}

func tokenCacheKey(installationID int64) string {
	return "installation:token:" + strconv.FormatInt(installationID, 10)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/port/tokens"
)

type fakeIssuer struct {
	mu    sync.Mutex
	mints int32
	delay time.Duration
	token *tokens.InstallationToken
	err   error
}

func (i *fakeIssuer) CreateInstallationToken(_ context.Context, _ int64) (*tokens.InstallationToken, error) {
	atomic.AddInt32(&i.mints, 1)
	if i.delay > 0 {
		time.Sleep(i.delay)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	return i.token, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	setErr  error
	sets    int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func freshToken(value string) *tokens.InstallationToken {
	return &tokens.InstallationToken{Token: value, ExpiresAt: time.Now().Add(time.Hour)}
}

func TestAuthenticateMintsAndCaches(t *testing.T) {
	issuer := &fakeIssuer{token: freshToken("ghs_abc")}
	c := newFakeCache()
	svc := NewTokenService(issuer, c, nil, slog.Default(), time.Minute)

	tok, err := svc.Authenticate(context.Background(), 42)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if tok.Token != "ghs_abc" {
		t.Fatalf("wrong token: %q", tok.Token)
	}
	if c.sets != 1 {
		t.Fatalf("expected one cache write, got %d", c.sets)
	}

	if _, err := svc.Authenticate(context.Background(), 42); err != nil {
		t.Fatalf("second authenticate: %v", err)
	}
	if n := atomic.LoadInt32(&issuer.mints); n != 1 {
		t.Fatalf("expected one mint, got %d", n)
	}
}

func TestAuthenticateExpiredCacheEntryRemints(t *testing.T) {
	issuer := &fakeIssuer{token: freshToken("ghs_new")}
	c := newFakeCache()
	svc := NewTokenService(issuer, c, nil, slog.Default(), time.Minute)

	stale := tokens.InstallationToken{Token: "ghs_old", ExpiresAt: time.Now().Add(30 * time.Second)}
	raw, _ := json.Marshal(stale)
	c.entries[tokenCacheKey(42)] = raw

	tok, err := svc.Authenticate(context.Background(), 42)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if tok.Token != "ghs_new" {
		t.Fatalf("stale token returned: %q", tok.Token)
	}
	if n := atomic.LoadInt32(&issuer.mints); n != 1 {
		t.Fatalf("expected a fresh mint, got %d", n)
	}
}

func TestAuthenticateEmptyTokenIsFailure(t *testing.T) {
	issuer := &fakeIssuer{token: &tokens.InstallationToken{ExpiresAt: time.Now().Add(time.Hour)}}
	svc := NewTokenService(issuer, newFakeCache(), nil, slog.Default(), time.Minute)

	_, err := svc.Authenticate(context.Background(), 42)
	if !domain.IsCode(err, domain.CodeTokenNull) {
		t.Fatalf("expected %s, got %v", domain.CodeTokenNull, err)
	}
}

func TestAuthenticateIssuerErrorPropagates(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("upstream 500")}
	svc := NewTokenService(issuer, newFakeCache(), nil, slog.Default(), time.Minute)

	if _, err := svc.Authenticate(context.Background(), 42); err == nil {
		t.Fatal("expected error from issuer")
	}
}

func TestAuthenticateCacheWriteFailureIsBestEffort(t *testing.T) {
	issuer := &fakeIssuer{token: freshToken("ghs_abc")}
	c := newFakeCache()
	c.setErr = errors.New("cache unavailable")
	svc := NewTokenService(issuer, c, nil, slog.Default(), time.Minute)

	tok, err := svc.Authenticate(context.Background(), 42)
	if err != nil {
		t.Fatalf("cache write failure must not fail authenticate: %v", err)
	}
	if tok.Token != "ghs_abc" {
		t.Fatalf("wrong token: %q", tok.Token)
	}
}

func TestAuthenticateConcurrentMintsCollapse(t *testing.T) {
	issuer := &fakeIssuer{token: freshToken("ghs_abc"), delay: 20 * time.Millisecond}
	svc := NewTokenService(issuer, newFakeCache(), nil, slog.Default(), time.Minute)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Authenticate(context.Background(), 42); err != nil {
				t.Errorf("authenticate: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&issuer.mints); n != 1 {
		t.Fatalf("expected a single collapsed mint, got %d", n)
	}
}

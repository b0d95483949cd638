// Package memstore implements the idempotency port with an in-process
// ristretto TTL cache and a per-key mutex map.
//
// Claims are lost on process restart and invisible to other instances; this
// backend is unsuitable for multi-instance or restart-sensitive deployments.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Store serializes acquire/release per key within one process. Lock entries
// are removed on release and on cache eviction to bound memory.
type Store struct {
	cache *ristretto.Cache[string, string]

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an in-process idempotency store holding up to maxKeys claims.
func New(maxKeys int64) (*Store, error) {
	s := &Store{locks: make(map[string]*sync.Mutex)}

	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxKeys * 10,
		MaxCost:     maxKeys,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[string]) {
			// The hashed item key is useless here; the value carries the
			// original key so the lock entry can be dropped.
			s.dropLock(item.Value)
		},
	})
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

// TryAcquire claims key for ttl. Exactly one concurrent caller wins.
func (s *Store) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	if _, held := s.cache.Get(key); held {
		return false, nil
	}
	s.cache.SetWithTTL(key, key, 1, ttl)
	// Flush the buffered write so the claim is visible before the key lock
	// is dropped.
	s.cache.Wait()
	return true, nil
}

// Exists probes for a live claim.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	_, held := s.cache.Get(key)
	return held, nil
}

// Release drops the claim and its lock entry. Absent keys are a no-op.
func (s *Store) Release(_ context.Context, key string) error {
	l := s.lockFor(key)
	l.Lock()
	s.cache.Del(key)
	s.cache.Wait()
	l.Unlock()

	s.dropLock(key)
	return nil
}

// CleanupExpired is a no-op: ristretto expires entries natively.
func (s *Store) CleanupExpired(context.Context) (int64, error) {
	return 0, nil
}

// Close releases the underlying cache.
func (s *Store) Close() {
	s.cache.Close()
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) dropLock(key string) {
	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
}

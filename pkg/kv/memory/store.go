package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leafsii/rediscmd/pkg/kv"
)

var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu          sync.Mutex
	strings     map[string]string
	streams     map[string]*stream
	expirations map[string]time.Time

	// appended is closed and replaced on every XADD to wake blocked readers
	appended chan struct{}
	now      func() time.Time

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

var _ kv.Store = (*Store)(nil)

// New creates a new in-memory store with optional janitor for TTL cleanup
func New(janitorInterval time.Duration) *Store {
	s := &Store{
		strings:         make(map[string]string),
		streams:         make(map[string]*stream),
		expirations:     make(map[string]time.Time),
		appended:        make(chan struct{}),
		now:             time.Now,
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

// janitor runs background expiration cleanup
func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, expiry := range s.expirations {
		if now.After(expiry) {
			s.deleteKeyUnsafe(key)
		}
	}
}

// evictIfExpiredUnsafe drops key if its TTL has passed (must hold lock)
func (s *Store) evictIfExpiredUnsafe(key string) {
	if expiry, exists := s.expirations[key]; exists && s.now().After(expiry) {
		s.deleteKeyUnsafe(key)
	}
}

// existsUnsafe reports whether key holds any value (must hold lock)
func (s *Store) existsUnsafe(key string) bool {
	s.evictIfExpiredUnsafe(key)
	if _, ok := s.strings[key]; ok {
		return true
	}
	_, ok := s.streams[key]
	return ok
}

// deleteKeyUnsafe removes a key from all data structures (must hold lock)
func (s *Store) deleteKeyUnsafe(key string) {
	delete(s.strings, key)
	delete(s.streams, key)
	delete(s.expirations, key)
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteKeyUnsafe(key)
	s.strings[key] = value
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIfExpiredUnsafe(key)
	if _, isStream := s.streams[key]; isStream {
		return "", errWrongType
	}
	value, exists := s.strings[key]
	if !exists {
		return "", kv.ErrNotFound
	}
	return value, nil
}

// Key operations

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if s.existsUnsafe(key) {
			deleted++
		}
		s.deleteKeyUnsafe(key)
	}
	return deleted, nil
}

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, key := range keys {
		if s.existsUnsafe(key) {
			count++
		}
	}
	return count, nil
}

// Expire sets a TTL on key. A ttl that is not positive deletes the key, as
// Redis does for a non-positive EXPIRE.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsUnsafe(key) {
		return false, nil
	}
	if ttl <= 0 {
		s.deleteKeyUnsafe(key)
		return true, nil
	}
	s.expirations[key] = s.now().Add(ttl)
	return true, nil
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close stops the janitor
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
	})
	<-s.janitorDone
	return nil
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is an atomic fixed-window counter. Increment counts one hit against
// key, starting a fresh window of length period when none is active, and
// returns the post-increment count with the window's reset time.
type Store interface {
	Increment(ctx context.Context, key string, period time.Duration) (count int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type Option func(*options)

type options struct {
	now             func() time.Time
	cleanupInterval time.Duration
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCleanupInterval sets how often the memory store drops expired windows.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:             time.Now,
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	store := &MemoryStore{
		data: make(map[string]*entry),
		now:  o.now,
		done: make(chan struct{}),
	}

	go store.cleanup(o.cleanupInterval)

	return store
}

func (s *MemoryStore) Increment(_ context.Context, key string, period time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, exists := s.data[key]; exists && now.Before(e.resetAt) {
		e.count++
		return e.count, e.resetAt, nil
	}

	e := &entry{
		count:   1,
		resetAt: now.Add(period),
	}
	s.data[key] = e

	return e.count, e.resetAt, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.data {
		if !now.Before(e.resetAt) {
			delete(s.data, key)
		}
	}
}

package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pinabook/internal/cache"
)

// Locker serializes work on a key. Acquire blocks until the key is free or
// ctx is done, and returns a release func that must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker with one mutex per key. Entries are
// reference counted and dropped when the last waiter leaves.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyLock{}}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.unref(key, l)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) unref(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

type RedisConfig struct {
	TTL          time.Duration
	PollInterval time.Duration
}

// RedisLocker is a Locker shared by every process talking to the same
// Valkey/Redis instance.
type RedisLocker struct {
	client *cache.ValkeyClient
	cfg    RedisConfig
}

func NewRedisLocker(client *cache.ValkeyClient, cfg RedisConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.TryLock(ctx, key, token, r.cfg.TTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := r.client.Unlock(releaseCtx, key, token); err != nil {
						// ключ освободится сам по TTL
						slog.Warn("Failed to release lock, waiting for expiry",
							"key", key,
							"ttl", r.cfg.TTL,
							"error", err)
					}
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

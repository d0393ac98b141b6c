package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/subradar/subradar-backend/pkg/redis"
)

const defaultLockTTL = 2 * time.Hour

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// redisStore defines the operations used by RedisLock and RedisLedger.
type redisStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
}

// RedisLock implements Lock using Redis SETNX + TTL.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.DelIfEquals(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Ledger remembers when each job last completed.
type Ledger interface {
	LastRun(ctx context.Context, job string) (time.Time, bool, error)
	MarkRun(ctx context.Context, job string, at time.Time) error
}

// RedisLedger stores completion times as RFC3339 strings.
type RedisLedger struct {
	client redisStore
	keyFn  func(job string) string
}

func NewRedisLedger(client redisStore, keyFn func(job string) string) (*RedisLedger, error) {
	if client == nil {
		return nil, errors.New("redis client required for ledger")
	}
	if keyFn == nil {
		return nil, errors.New("ledger key builder required")
	}
	return &RedisLedger{client: client, keyFn: keyFn}, nil
}

func (l *RedisLedger) LastRun(ctx context.Context, job string) (time.Time, bool, error) {
	raw, err := l.client.Get(ctx, l.keyFn(job))
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last run: %w", err)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

func (l *RedisLedger) MarkRun(ctx context.Context, job string, at time.Time) error {
	if err := l.client.Set(ctx, l.keyFn(job), at.UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("write last run: %w", err)
	}
	return nil
}

type memoryLedger struct {
	runs map[string]time.Time
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{runs: map[string]time.Time{}}
}

func (m *memoryLedger) LastRun(_ context.Context, job string) (time.Time, bool, error) {
	at, ok := m.runs[job]
	return at, ok, nil
}

func (m *memoryLedger) MarkRun(_ context.Context, job string, at time.Time) error {
	m.runs[job] = at
	return nil
}

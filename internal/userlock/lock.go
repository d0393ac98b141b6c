// Package userlock serializes pipeline work per user.
package userlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/subradar/subradar-backend/pkg/errors"
)

const defaultTTL = 5 * time.Minute

// Locker runs fn while holding the user's lock.
type Locker interface {
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error
}

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
	UserLockKey(userID string) string
}

// RedisLocker holds a SETNX key per user for at most ttl.
type RedisLocker struct {
	store store
	ttl   time.Duration
}

func NewRedisLocker(client store, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for user lock")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{store: client, ttl: ttl}, nil
}

// WithUserLock returns a CONFLICT error when another run holds the lock.
func (l *RedisLocker) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context) error) error {
	key := l.store.UserLockKey(userID.String())
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire user lock")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "another pipeline run is in progress for this user")
	}
	defer func() { _ = l.release(context.WithoutCancel(ctx), key, owner) }()
	return fn(ctx)
}

func (l *RedisLocker) release(ctx context.Context, key, owner string) error {
	if _, err := l.store.DelIfEquals(ctx, key, owner); err != nil {
		return fmt.Errorf("release user lock: %w", err)
	}
	return nil
}

// Noop runs fn without coordination. Used when Redis is not configured.
type Noop struct{}

func (Noop) WithUserLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

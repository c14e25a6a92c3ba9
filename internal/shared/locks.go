package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionLockKey builds redis keys for the per-session writer lock.
func SessionLockKey(sessionID string) string {
	return fmt.Sprintf("registra:session:%s:lock", sessionID)
}

// SessionLocker serializes mutations within one editing session.
// The undo stack is single-writer per session; concurrent requests on
// the same session must queue behind each other, not interleave.
type SessionLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionLocker constructs a SessionLocker.
func NewSessionLocker(client *redis.Client, ttl time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SessionLocker{client: client, ttl: ttl}
}

// Acquire takes the writer lock for the session or returns ErrSessionBusy.
func (l *SessionLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := SessionLockKey(sessionID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	release := func() {
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}
	return release, nil
}

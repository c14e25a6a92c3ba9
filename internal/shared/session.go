package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionHeader carries the editing-session ID on mutating requests.
const SessionHeader = "X-Editing-Session"

// EditingSession scopes an undo stack to one editor working on students.
// Two sessions editing the same student do not see each other's stacks;
// the storage layer stays last-write-wins.
type EditingSession struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	StartedAt time.Time `json:"started_at"`
}

// SessionManager stores editing sessions in Redis with a sliding TTL.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Create registers a new editing session for the actor.
func (sm *SessionManager) Create(ctx context.Context, actor string) (*EditingSession, error) {
	if actor == "" {
		return nil, errors.New("shared: session actor required")
	}
	sess := &EditingSession{
		ID:        uuid.NewString(),
		Actor:     actor,
		StartedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), payload, sm.ttl).Err(); err != nil {
		return nil, fmt.Errorf("shared: store session: %w", err)
	}
	return sess, nil
}

// Load fetches an existing session and refreshes its TTL.
func (sm *SessionManager) Load(ctx context.Context, id string) (*EditingSession, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionRequired
		}
		return nil, fmt.Errorf("shared: load session: %w", err)
	}
	var sess EditingSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}
	_ = sm.client.Expire(ctx, sm.redisKey(id), sm.ttl).Err()
	return &sess, nil
}

func (sm *SessionManager) redisKey(id string) string {
	return "registra:session:" + id
}

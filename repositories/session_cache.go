package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"safemap/models"
)

const (
	activeSessionKeyPrefix = "emergency:active:"
	activeSessionIndexKey  = "emergency:active"

	DefaultActiveSessionTTL = 24 * time.Hour
)

// SessionCache keeps the latest snapshot of every live session so operators
// can list them without touching each user's orchestrator.
type SessionCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultActiveSessionTTL
	}
	return &SessionCache{redis: client, ttl: ttl}
}

func activeSessionKey(userID string) string {
	return activeSessionKeyPrefix + userID
}

func (sc *SessionCache) Put(ctx context.Context, snapshot models.SessionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	pipe := sc.redis.Pipeline()
	pipe.Set(ctx, activeSessionKey(snapshot.UserID), data, sc.ttl)
	pipe.SAdd(ctx, activeSessionIndexKey, snapshot.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache session snapshot: %w", err)
	}
	return nil
}

func (sc *SessionCache) Remove(ctx context.Context, userID string) error {
	pipe := sc.redis.Pipeline()
	pipe.Del(ctx, activeSessionKey(userID))
	pipe.SRem(ctx, activeSessionIndexKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove cached session: %w", err)
	}
	return nil
}

// Get returns nil, nil when the user has no cached session.
func (sc *SessionCache) Get(ctx context.Context, userID string) (*models.SessionSnapshot, error) {
	val, err := sc.redis.Get(ctx, activeSessionKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	var snapshot models.SessionSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}
	return &snapshot, nil
}

// ListActive returns cached sessions ordered by arming time. Index entries
// whose snapshot expired are pruned.
func (sc *SessionCache) ListActive(ctx context.Context) ([]models.SessionSnapshot, error) {
	userIDs, err := sc.redis.SMembers(ctx, activeSessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	snapshots := []models.SessionSnapshot{}
	if len(userIDs) == 0 {
		return snapshots, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = activeSessionKey(id)
	}

	values, err := sc.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, userIDs[i])
			continue
		}
		var snapshot models.SessionSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			logrus.WithError(err).WithField("userId", userIDs[i]).Warn("Dropping unreadable cached session")
			stale = append(stale, userIDs[i])
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	if len(stale) > 0 {
		if err := sc.redis.SRem(ctx, activeSessionIndexKey, stale...).Err(); err != nil {
			logrus.WithError(err).Warn("Failed to prune active session index")
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return armedTime(snapshots[i]).Before(armedTime(snapshots[j]))
	})
	return snapshots, nil
}

func armedTime(s models.SessionSnapshot) time.Time {
	if s.ArmedAt != nil {
		return *s.ArmedAt
	}
	return s.Timestamp
}

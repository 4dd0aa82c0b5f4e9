package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"safemap/emergency"
	"safemap/models"
)

const (
	lastKnownPrefix = "location:last:"
	deniedPrefix    = "location:denied:"
	channelPrefix   = "location:feed:"

	DefaultLastKnownTTL = 15 * time.Minute
)

type feedKind string

const (
	feedPosition feedKind = "position"
	feedDenied   feedKind = "denied"
)

// feedMessage is the pub/sub envelope on a user's location channel.
type feedMessage struct {
	Kind     feedKind         `json:"kind"`
	Position *models.Position `json:"position,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// Store keeps device-pushed positions in Redis: the last known fix under a
// key with a TTL, a permission-denied flag, and a pub/sub channel per user
// that streams every update to subscribed orchestrators.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultLastKnownTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Publish records a new fix and fans it out to subscribers. A fix implies the
// device has granted permission, so any denied flag is cleared.
func (s *Store) Publish(ctx context.Context, userID string, pos models.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}
	msg, _ := json.Marshal(feedMessage{Kind: feedPosition, Position: &pos})

	pipe := s.client.Pipeline()
	pipe.Set(ctx, lastKnownPrefix+userID, data, s.ttl)
	pipe.Del(ctx, deniedPrefix+userID)
	pipe.Publish(ctx, channelPrefix+userID, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish position: %w", err)
	}
	return nil
}

// Deny marks location permission as refused for the user.
func (s *Store) Deny(ctx context.Context, userID, reason string) error {
	if reason == "" {
		reason = "permission denied"
	}
	msg, _ := json.Marshal(feedMessage{Kind: feedDenied, Reason: reason})

	pipe := s.client.Pipeline()
	pipe.Set(ctx, deniedPrefix+userID, reason, 0)
	pipe.Publish(ctx, channelPrefix+userID, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record location denial: %w", err)
	}
	return nil
}

// Grant clears a previous denial without supplying a fix.
func (s *Store) Grant(ctx context.Context, userID string) error {
	return s.client.Del(ctx, deniedPrefix+userID).Err()
}

// Last returns the last known fix, or nil when none is stored.
func (s *Store) Last(ctx context.Context, userID string) (*models.Position, error) {
	data, err := s.client.Get(ctx, lastKnownPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last position: %w", err)
	}
	var pos models.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("failed to decode last position: %w", err)
	}
	return &pos, nil
}

// ForUser returns the LocationProvider an orchestrator uses for one user.
func (s *Store) ForUser(userID string) emergency.LocationProvider {
	return &provider{store: s, userID: userID}
}

type provider struct {
	store  *Store
	userID string
}

func (p *provider) CurrentPosition(ctx context.Context) (models.Position, error) {
	denied, err := p.store.client.Exists(ctx, deniedPrefix+p.userID).Result()
	if err != nil {
		return models.Position{}, fmt.Errorf("%w: %v", emergency.ErrLocationUnavailable, err)
	}
	if denied > 0 {
		return models.Position{}, emergency.ErrPermissionDenied
	}

	pos, err := p.store.Last(ctx, p.userID)
	if err != nil {
		return models.Position{}, fmt.Errorf("%w: %v", emergency.ErrLocationUnavailable, err)
	}
	if pos == nil {
		return models.Position{}, emergency.ErrLocationUnavailable
	}
	return *pos, nil
}

// Subscribe confirms the Redis subscription before returning, so no update
// published afterwards is missed. Callbacks run on a dedicated goroutine.
func (p *provider) Subscribe(onUpdate func(models.Position), onError func(error)) (emergency.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := p.store.client.Subscribe(ctx, channelPrefix+p.userID)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to location feed: %w", err)
	}

	sub := &subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	go sub.loop(p.userID, onUpdate, onError)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (s *subscription) loop(userID string, onUpdate func(models.Position), onError func(error)) {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		var m feedMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			logrus.WithError(err).WithField("userId", userID).Warn("Dropping malformed location message")
			continue
		}
		switch m.Kind {
		case feedPosition:
			if m.Position != nil {
				onUpdate(*m.Position)
			}
		case feedDenied:
			onError(fmt.Errorf("%w: %s", emergency.ErrPermissionDenied, m.Reason))
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemap/emergency"
	"safemap/models"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewStore(client, time.Minute)
}

func fix(lat float64) models.Position {
	return models.Position{Latitude: lat, Longitude: 2.35, Accuracy: 8, CapturedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCurrentPosition(t *testing.T) {
	mr, store := setupStore(t)
	ctx := context.Background()
	p := store.ForUser("u1")

	_, err := p.CurrentPosition(ctx)
	assert.ErrorIs(t, err, emergency.ErrLocationUnavailable)

	require.NoError(t, store.Publish(ctx, "u1", fix(48.85)))
	pos, err := p.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48.85, pos.Latitude)
	assert.True(t, pos.CapturedAt.Equal(fix(0).CapturedAt))
	assert.Equal(t, time.Minute, mr.TTL(lastKnownPrefix+"u1"))

	require.NoError(t, store.Deny(ctx, "u1", "user refused"))
	_, err = p.CurrentPosition(ctx)
	assert.ErrorIs(t, err, emergency.ErrPermissionDenied)

	require.NoError(t, store.Grant(ctx, "u1"))
	_, err = p.CurrentPosition(ctx)
	require.NoError(t, err)

	// A new fix clears a denial.
	require.NoError(t, store.Deny(ctx, "u1", ""))
	require.NoError(t, store.Publish(ctx, "u1", fix(48.9)))
	pos, err = p.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48.9, pos.Latitude)

	mr.FastForward(2 * time.Minute)
	last, err := store.Last(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestCurrentPositionRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client, 0)

	_, err := store.ForUser("u1").CurrentPosition(context.Background())
	assert.ErrorIs(t, err, emergency.ErrLocationUnavailable)
}

func TestSubscribeStreamsUpdatesAndDenials(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	updates := make(chan models.Position, 4)
	errs := make(chan error, 4)
	sub, err := store.ForUser("u1").Subscribe(
		func(p models.Position) { updates <- p },
		func(err error) { errs <- err },
	)
	require.NoError(t, err)

	require.NoError(t, store.Publish(ctx, "u2", fix(1)))
	require.NoError(t, store.Publish(ctx, "u1", fix(51.5)))
	select {
	case p := <-updates:
		assert.Equal(t, 51.5, p.Latitude)
	case <-time.After(2 * time.Second):
		t.Fatal("no position received")
	}

	require.NoError(t, store.Deny(ctx, "u1", "revoked"))
	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, emergency.ErrPermissionDenied))
		assert.Contains(t, err.Error(), "revoked")
	case <-time.After(2 * time.Second):
		t.Fatal("no denial received")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	select {
	case <-sub.(*subscription).done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription loop did not stop")
	}
	assert.Empty(t, updates)
}

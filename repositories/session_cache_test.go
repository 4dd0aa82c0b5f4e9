package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemap/models"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *SessionCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSessionCache(client, time.Hour)
}

func activeSnapshot(userID string, armedAt time.Time) models.SessionSnapshot {
	return models.SessionSnapshot{
		UserID:    userID,
		SessionID: "s-" + userID,
		Status:    models.SessionStatusActive,
		Event:     models.SessionEventActivated,
		ArmedAt:   &armedAt,
		Timestamp: armedAt,
	}
}

func TestSessionCachePutGetRemove(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	armed := time.Date(2026, 3, 14, 9, 0, 3, 0, time.UTC)
	require.NoError(t, cache.Put(ctx, activeSnapshot("u1", armed)))
	assert.Equal(t, time.Hour, mr.TTL(activeSessionKey("u1")))

	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s-u1", got.SessionID)
	assert.True(t, got.ArmedAt.Equal(armed))

	require.NoError(t, cache.Remove(ctx, "u1"))
	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	members, err := mr.Members(activeSessionIndexKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestSessionCacheListActiveOrdersAndPrunes(t *testing.T) {
	mr, cache := setupCache(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Put(ctx, activeSnapshot("late", base.Add(time.Minute))))
	require.NoError(t, cache.Put(ctx, activeSnapshot("early", base)))
	require.NoError(t, cache.Put(ctx, activeSnapshot("gone", base.Add(30*time.Second))))

	mr.Del(activeSessionKey("gone"))

	list, err := cache.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].UserID)
	assert.Equal(t, "late", list[1].UserID)

	members, err := mr.Members(activeSessionIndexKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"early", "late"}, members)
}

func TestSessionCacheListActiveEmpty(t *testing.T) {
	_, cache := setupCache(t)

	list, err := cache.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

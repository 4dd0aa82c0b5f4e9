package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemap/models"
	"safemap/utils"
)

func newTestClient(hub *Hub, userID, role string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hub:          hub,
		userID:       userID,
		role:         role,
		connectionID: "conn-" + userID,
		send:         make(chan interface{}, 8),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.touch()
	return c
}

func drain(c *Client) []interface{} {
	var frames []interface{}
	for {
		select {
		case f := <-c.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func TestHubSendToUser(t *testing.T) {
	hub := startHub(t)
	phone := newTestClient(hub, "u1", utils.RoleUser)
	tablet := newTestClient(hub, "u1", utils.RoleUser)

	require.True(t, hub.Register(phone))
	require.True(t, hub.Register(tablet))
	require.Eventually(t, func() bool { return len(hub.GetStats().RoomStats) == 0 && hub.GetStats().ActiveConnections == 2 },
		time.Second, 5*time.Millisecond)

	drain(phone)
	drain(tablet)

	ok := hub.SendToUser("u1", models.WSMessage{Type: models.WSTypeSession})
	assert.True(t, ok)

	for _, c := range []*Client{phone, tablet} {
		frames := drain(c)
		require.Len(t, frames, 1)
		msg := frames[0].(models.WSMessage)
		assert.Equal(t, models.WSTypeSession, msg.Type)
		assert.False(t, msg.Timestamp.IsZero())
	}

	assert.False(t, hub.SendToUser("nobody", models.WSMessage{Type: models.WSTypeSession}))
}

func TestHubConnectionStatusOnRegister(t *testing.T) {
	hub := startHub(t)
	c := newTestClient(hub, "u1", utils.RoleUser)

	require.True(t, hub.Register(c))
	require.Eventually(t, func() bool { return hub.IsUserOnline("u1") }, time.Second, 5*time.Millisecond)

	frames := drain(c)
	require.NotEmpty(t, frames)
	assert.Equal(t, models.WSTypeConnection, frames[0].(models.WSMessage).Type)
}

func TestHubOperatorsRoom(t *testing.T) {
	hub := startHub(t)
	user := newTestClient(hub, "u1", utils.RoleUser)
	operator := newTestClient(hub, "op1", utils.RoleOperator)

	require.True(t, hub.Register(user))
	require.True(t, hub.Register(operator))
	require.Eventually(t, func() bool { return hub.IsUserOnline("u1") && hub.IsUserOnline("op1") },
		time.Second, 5*time.Millisecond)
	drain(user)
	drain(operator)

	n := hub.BroadcastToOperators(models.WSMessage{Type: models.WSTypeSession})
	assert.Equal(t, 1, n)
	assert.Len(t, drain(operator), 1)
	assert.Empty(t, drain(user))
}

func TestHubUnregisterOnClose(t *testing.T) {
	hub := startHub(t)
	c := newTestClient(hub, "u1", utils.RoleOperator)

	require.True(t, hub.Register(c))
	require.Eventually(t, func() bool { return hub.IsUserOnline("u1") }, time.Second, 5*time.Millisecond)

	c.Close()
	c.Close()

	assert.Eventually(t, func() bool { return !hub.IsUserOnline("u1") }, time.Second, 5*time.Millisecond)
	assert.False(t, c.SendMessage(models.WSMessage{Type: models.WSTypeSession}))
	assert.Equal(t, 0, hub.BroadcastToOperators(models.WSMessage{Type: models.WSTypeSession}))
}

func TestClientSendMessageDropsWhenFull(t *testing.T) {
	c := newTestClient(nil, "u1", utils.RoleUser)
	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.SendMessage(i))
	}
	assert.False(t, c.SendMessage("overflow"))
}

func TestClientLimiterBurst(t *testing.T) {
	rl := newClientLimiter()
	for i := 0; i < clientRateLimit; i++ {
		require.True(t, rl.Allow(), i)
	}
	assert.False(t, rl.Allow())
}

func TestRegisterAfterShutdown(t *testing.T) {
	hub := NewHub()
	hub.Shutdown()

	assert.False(t, hub.Register(newTestClient(hub, "u1", utils.RoleUser)))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed("https://a.example", nil))
	assert.True(t, originAllowed("https://a.example", []string{"*"}))
	assert.True(t, originAllowed("https://A.example", []string{"https://a.example"}))
	assert.False(t, originAllowed("https://b.example", []string{"https://a.example"}))
}

package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safemap/models"
	"safemap/utils"
)

// Hub tracks connected clients by user and delivers frames to them. It does
// not depend on any service; the emergency service reaches users through
// SendToUser.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// A user may be connected from several devices
	userClients map[string]map[*Client]bool

	rooms map[string]*Room

	register   chan *Client
	unregister chan *Client

	stats HubStats

	mutex sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	cleanupInterval time.Duration
	idleTimeout     time.Duration
}

type HubStats struct {
	TotalConnections int64
	MessagesSent     int64
	MessagesDropped  int64
	StartTime        time.Time

	mutex sync.RWMutex
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:         make(map[*Client]bool),
		userClients:     make(map[string]map[*Client]bool),
		rooms:           make(map[string]*Room),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		stats:           HubStats{StartTime: time.Now()},
		ctx:             ctx,
		cancel:          cancel,
		cleanupInterval: 5 * time.Minute,
		idleTimeout:     2 * pongWait,
	}
}

func (h *Hub) Run() {
	logrus.Info("WebSocket Hub starting...")

	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.performCleanup()

		case <-h.ctx.Done():
			logrus.Info("WebSocket Hub shutting down...")
			return
		}
	}
}

// Register hands a client to the run loop. It returns false once the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	if h.userClients[client.userID] == nil {
		h.userClients[client.userID] = make(map[*Client]bool)
	}
	h.userClients[client.userID][client] = true

	if client.role == utils.RoleOperator {
		h.getOrCreateRoom(OperatorsRoom).AddClient(client)
	}

	h.stats.mutex.Lock()
	h.stats.TotalConnections++
	h.stats.mutex.Unlock()

	client.SendMessage(models.WSMessage{
		Type: models.WSTypeConnection,
		Data: models.WSConnectionStatus{
			UserID:       client.userID,
			ConnectionID: client.connectionID,
			Status:       models.WSStatusConnected,
			Timestamp:    time.Now(),
		},
		Timestamp: time.Now(),
	})

	logrus.Infof("Client registered: %s (Total: %d)", client.userID, len(h.clients))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)

	if set := h.userClients[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.userClients, client.userID)
		}
	}

	for roomID, room := range h.rooms {
		room.RemoveClient(client)
		if room.IsEmpty() {
			delete(h.rooms, roomID)
		}
	}

	logrus.Infof("Client unregistered: %s (Total: %d)", client.userID, len(h.clients))
}

// getOrCreateRoom must be called with h.mutex held.
func (h *Hub) getOrCreateRoom(roomID string) *Room {
	if room, exists := h.rooms[roomID]; exists {
		return room
	}
	room := NewRoom(roomID)
	h.rooms[roomID] = room
	return room
}

// SendToUser queues message on every connection of userID. It reports
// whether at least one connection accepted it.
func (h *Hub) SendToUser(userID string, message models.WSMessage) bool {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	delivered := 0
	for client := range h.userClients[userID] {
		if client.SendMessage(message) {
			delivered++
		}
	}
	h.countSent(delivered, len(h.userClients[userID])-delivered)
	return delivered > 0
}

// BroadcastToOperators sends message to every connected operator console.
func (h *Hub) BroadcastToOperators(message models.WSMessage) int {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	h.mutex.RLock()
	room := h.rooms[OperatorsRoom]
	h.mutex.RUnlock()

	if room == nil {
		return 0
	}
	delivered := room.Broadcast(message)
	h.countSent(delivered, 0)
	return delivered
}

func (h *Hub) countSent(sent, dropped int) {
	if sent == 0 && dropped == 0 {
		return
	}
	h.stats.mutex.Lock()
	h.stats.MessagesSent += int64(sent)
	h.stats.MessagesDropped += int64(dropped)
	h.stats.mutex.Unlock()
}

func (h *Hub) IsUserOnline(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.userClients[userID]) > 0
}

func (h *Hub) GetConnectedUsers() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

func (h *Hub) GetStats() models.WSHubStats {
	h.mutex.RLock()
	roomStats := make(map[string]models.WSRoomStats, len(h.rooms))
	for roomID, room := range h.rooms {
		roomStats[roomID] = models.WSRoomStats{
			RoomID:        roomID,
			ActiveUsers:   room.GetClientCount(),
			LastActivity:  room.GetLastActivity(),
			TotalMessages: room.GetMessageCount(),
		}
	}
	active := len(h.clients)
	users := len(h.userClients)
	h.mutex.RUnlock()

	h.stats.mutex.RLock()
	defer h.stats.mutex.RUnlock()

	return models.WSHubStats{
		TotalConnections:  h.stats.TotalConnections,
		ActiveConnections: active,
		ConnectedUsers:    users,
		MessagesSent:      h.stats.MessagesSent,
		MessagesDropped:   h.stats.MessagesDropped,
		RoomStats:         roomStats,
		Uptime:            time.Since(h.stats.StartTime),
		LastUpdate:        time.Now(),
	}
}

// performCleanup closes connections that stopped reading without the read
// deadline firing, which happens when a peer vanishes mid-write.
func (h *Hub) performCleanup() {
	h.mutex.RLock()
	var stale []*Client
	for client := range h.clients {
		if client.idleFor() > h.idleTimeout {
			stale = append(stale, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range stale {
		logrus.Warnf("Removing inactive client: %s", client.userID)
		go client.Close()
	}
}

func (h *Hub) Shutdown() {
	logrus.Info("Shutting down WebSocket Hub...")
	h.cancel()

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.Close()
	}
	logrus.Info("WebSocket Hub shutdown complete")
}

package websocket

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Room names.
const (
	OperatorsRoom = "operators"
)

// Room is a named group of clients that receive the same frames.
type Room struct {
	ID string

	clients map[*Client]bool
	mutex   sync.RWMutex

	createdAt    time.Time
	lastActivity time.Time
	messagesSent int64
	dropped      int64
}

func NewRoom(id string) *Room {
	now := time.Now()
	logrus.Debugf("Created new room: %s", id)
	return &Room{
		ID:           id,
		clients:      make(map[*Client]bool),
		createdAt:    now,
		lastActivity: now,
	}
}

func (r *Room) AddClient(client *Client) {
	if client == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.clients[client] = true
	r.lastActivity = time.Now()
	logrus.Debugf("Client %s joined room %s (Total: %d)", client.userID, r.ID, len(r.clients))
}

func (r *Room) RemoveClient(client *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.clients[client] {
		return
	}
	delete(r.clients, client)
	r.lastActivity = time.Now()
	logrus.Debugf("Client %s left room %s (Remaining: %d)", client.userID, r.ID, len(r.clients))
}

// Broadcast queues frame on every member and returns how many accepted it.
func (r *Room) Broadcast(frame interface{}) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delivered := 0
	for client := range r.clients {
		if client.SendMessage(frame) {
			delivered++
		} else {
			r.dropped++
		}
	}
	r.messagesSent += int64(delivered)
	r.lastActivity = time.Now()
	return delivered
}

func (r *Room) GetClientCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.clients)
}

func (r *Room) IsEmpty() bool {
	return r.GetClientCount() == 0
}

func (r *Room) GetLastActivity() time.Time {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lastActivity
}

func (r *Room) GetMessageCount() int64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.messagesSent
}

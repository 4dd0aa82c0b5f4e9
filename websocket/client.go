package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"safemap/models"
	"safemap/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 16384

	sendBufferSize = 256

	// Inbound frames per client per minute
	clientRateLimit = 120
)

// Client is one authenticated connection. The send channel is never closed;
// writers select on ctx instead so a late SendMessage cannot panic.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	handler *MessageHandler

	userID       string
	role         string
	connectionID string
	connectedAt  time.Time
	lastActivity atomic.Int64
	deviceType   string
	appVersion   string
	ipAddress    string
	userAgent    string

	// Outbound frames: models.WSMessage pushes and models.WSResponse replies
	send chan interface{}

	rateLimiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// newClientLimiter allows a full minute's budget as a burst, refilled evenly.
func newClientLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/clientRateLimit), clientRateLimit)
}

func NewClient(conn *websocket.Conn, hub *Hub, handler *MessageHandler, claims *utils.Claims, r *http.Request) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		conn:         conn,
		hub:          hub,
		handler:      handler,
		userID:       claims.UserID,
		role:         claims.Role,
		connectionID: utils.GenerateUUID(),
		connectedAt:  time.Now(),
		send:         make(chan interface{}, sendBufferSize),
		rateLimiter:  newClientLimiter(),
		ctx:          ctx,
		cancel:       cancel,
	}
	client.touch()

	if r != nil {
		client.ipAddress = getClientIP(r)
		client.userAgent = r.UserAgent()
		client.deviceType = r.Header.Get("X-Device-Type")
		client.appVersion = r.Header.Get("X-App-Version")
	}
	return client
}

// Serve registers the client and runs its pumps until the connection ends.
func (c *Client) Serve() {
	if !c.hub.Register(c) {
		c.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"userId":       c.userID,
		"connectionId": c.connectionID,
		"ip":           c.ipAddress,
		"deviceType":   c.deviceType,
	}).Info("WebSocket client connected")

	go c.WritePump()
	c.ReadPump()
}

func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logWebSocketError(c, "read", err)
			}
			return
		}
		c.touch()

		if !c.rateLimiter.Allow() {
			c.SendMessage(utils.WSErrorResponse("", models.WSErrorRateLimit, "Rate limit exceeded"))
			continue
		}

		c.handleMessage(data)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				logWebSocketError(c, "write", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logWebSocketError(c, "ping", err)
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var req models.WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.SendMessage(utils.WSErrorResponse("", models.WSErrorInvalidMessage, "Invalid message format"))
		return
	}

	c.SendMessage(c.handler.Handle(c.ctx, c.userID, req))
	logWebSocketEvent(c, req.Type)
}

// SendMessage queues frame without blocking. A full buffer drops the frame;
// the next session snapshot supersedes it anyway.
func (c *Client) SendMessage(frame interface{}) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		logrus.Warnf("Send channel full for user %s", c.userID)
		return false
	}
}

// Close is idempotent and safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.hub != nil {
			c.hub.Unregister(c)
		}
		if c.conn != nil {
			c.conn.Close()
		}
		logrus.Infof("Client disconnected: %s (%s)", c.userID, c.connectionID)
	})
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

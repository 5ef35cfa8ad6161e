// Package websocket pushes approval events to connected admin dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ErrHubStopped is returned by Notify once Run has exited.
var ErrHubStopped = errors.New("websocket hub stopped")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// TokenParser validates the access token presented on connect.
type TokenParser interface {
	ParseToken(token string) (*middleware.Claims, error)
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	Roles  []string
}

// wants reports whether a delivery addressed to d should reach the client.
func (c *Client) wants(d delivery) bool {
	if d.all || slices.Contains(d.users, c.UserID) {
		return true
	}
	for _, r := range c.Roles {
		if slices.Contains(d.roles, r) {
			return true
		}
	}
	return false
}

type delivery struct {
	roles   []string
	users   []string
	all     bool
	payload []byte
}

// Hub maintains the set of active clients and routes events to them by role.
type Hub struct {
	clients    map[*Client]bool
	publish    chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	upgrader   websocket.Upgrader
}

var _ approval.Notifier = (*Hub)(nil)

// NewHub initializes a new WS Hub instance. allowedOrigins empty allows any origin.
func NewHub(allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		publish:    make(chan delivery, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Run dispatches hub events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.Send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Debug("websocket client connected", "user_id", client.UserID)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				slog.Debug("websocket client disconnected", "user_id", client.UserID)
			}
			h.mu.Unlock()
		case d := <-h.publish:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(d) {
					continue
				}
				select {
				case client.Send <- d.payload:
				default:
					// Slow consumer; drop it rather than block the hub.
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify implements approval.Notifier. The event reaches clients holding one
// of the recipient roles, and the users who acted on the request.
func (h *Hub) Notify(ctx context.Context, to approval.Recipients, event approval.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	users := slices.Clone(event.Approvers)
	if event.Actor != "" {
		users = append(users, event.Actor)
	}
	d := delivery{roles: to.Roles, users: users, all: to.All, payload: payload}

	select {
	case h.publish <- d:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive and notices when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		_ = c.Conn.Close()
	}()
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "user_id", c.UserID, "error", err)
			}
			return
		}
	}
}

// ServeWs upgrades an authenticated request. Browsers cannot set headers on
// websocket handshakes, so the token may also come from the query string.
func ServeWs(hub *Hub, tokens TokenParser, c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		var err error
		if tokenString, err = middleware.TokenFromRequest(c); err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	claims, err := tokens.ParseToken(tokenString)
	if err != nil {
		slog.Info("websocket connection rejected", "error", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if len(claims.Roles) == 0 {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), UserID: claims.Subject, Roles: claims.Roles}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

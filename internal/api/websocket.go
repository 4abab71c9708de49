package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradegate/internal/auth"
	"tradegate/internal/command"
	apperrors "tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/monitoring"
	"tradegate/internal/status"
)

// Connection lifecycle: a client connects unauthenticated, must present
// credentials in its first message within authGrace, and is closed otherwise.
// Only authenticated clients receive broadcasts.
type wsState int

const (
	wsUnauthenticated wsState = iota
	wsAuthenticated
)

const authGrace = 10 * time.Second

// Message is the envelope for every server-to-client frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

type clientMessage struct {
	Type       string                 `json:"type"`
	APIKey     string                 `json:"api_key,omitempty"`
	Token      string                 `json:"token,omitempty"`
	Command    string                 `json:"command,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	// Params is accepted as an alias for clients predating the rename.
	Params map[string]interface{} `json:"params,omitempty"`
}

func (m *clientMessage) commandParams() map[string]interface{} {
	if m.Parameters != nil {
		return m.Parameters
	}
	return m.Params
}

// authResult replies to an auth frame. ok sits at the frame root so clients
// can switch on it directly.
type authResult struct {
	Type     string              `json:"type"`
	OK       bool                `json:"ok"`
	Role     string              `json:"role,omitempty"`
	ClientID string              `json:"client_id,omitempty"`
	Code     apperrors.ErrorCode `json:"code,omitempty"`
	Message  string              `json:"message,omitempty"`
	Time     time.Time           `json:"time"`
}

// statusFrame splices the snapshot fields at the frame root, so consumers
// read cpu_usage and trading_status straight off the broadcast.
type statusFrame struct {
	Type string `json:"type"`
	*status.Snapshot
	Time time.Time `json:"time"`
}

// Hub owns the WebSocket clients and the periodic status broadcast.
type Hub struct {
	upgrader  websocket.Upgrader
	creds     *auth.CredentialStore
	tokens    *auth.JWTManager
	executor  *command.Executor
	collector *status.Collector
	metrics   *monitoring.Metrics
	interval  time.Duration

	mu      sync.RWMutex
	clients map[string]*Client

	stopOnce sync.Once
	stop     chan struct{}
}

// Client is one WebSocket connection.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub *Hub

	mu     sync.Mutex
	state  wsState
	role   auth.Role
	closed bool
}

// NewHub creates the hub. Start must be called to begin broadcasting.
func NewHub(creds *auth.CredentialStore, tokens *auth.JWTManager, executor *command.Executor,
	collector *status.Collector, metrics *monitoring.Metrics, interval time.Duration) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		creds:     creds,
		tokens:    tokens,
		executor:  executor,
		collector: collector,
		metrics:   metrics,
		interval:  interval,
		clients:   make(map[string]*Client),
		stop:      make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	go h.broadcastLoop()
}

// Stop ends the broadcast loop and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.Conn.Close()
	}
}

// Serve upgrades an HTTP request into a gateway WebSocket session.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
		hub:  h,
	}
	h.register(client)

	// Close clients that never authenticate.
	time.AfterFunc(authGrace, func() {
		if !client.authenticated() {
			client.send(Message{
				Type: "error",
				Data: command.Fail(apperrors.ErrCodeMissingKey, "authentication required"),
				Time: time.Now().UTC(),
			})
			client.closeSend()
		}
	})

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.updateGauge()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	h.mu.Unlock()

	client.closeSend()
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	authed := 0
	for _, client := range h.clients {
		if client.authenticated() {
			authed++
		}
	}
	h.mu.RUnlock()
	h.metrics.SetActiveConnections(float64(authed))
}

// authenticatedClients snapshots the broadcast audience.
func (h *Hub) authenticatedClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.authenticated() {
			clients = append(clients, client)
		}
	}
	return clients
}

func (h *Hub) broadcastLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.broadcastStatus()
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) broadcastStatus() {
	clients := h.authenticatedClients()
	if len(clients) == 0 {
		return
	}

	snap := h.collector.Snapshot(context.Background())
	data, err := json.Marshal(statusFrame{Type: "status_update", Snapshot: snap, Time: time.Now().UTC()})
	if err != nil {
		logging.WithError(err).Error("failed to marshal status broadcast")
		return
	}

	for _, client := range clients {
		client.enqueue(data)
	}
	if h.metrics != nil {
		h.metrics.IncBroadcasts()
	}
}

func (c *Client) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == wsAuthenticated
}

func (c *Client) currentRole() auth.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) markAuthenticated(role auth.Role) {
	c.mu.Lock()
	c.state = wsAuthenticated
	c.role = role
	c.mu.Unlock()
	c.hub.updateGauge()
}

// closeSend ends the session after queued frames have been flushed. The
// write pump drains the channel, writes a close frame and closes the
// connection. Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// send marshals and enqueues one frame.
func (c *Client) send(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.WithError(err).Error("failed to marshal websocket message")
		return
	}
	c.enqueue(data)
}

// enqueue drops the connection when its buffer is full so one slow client
// never stalls the others.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		logging.WithField("client_id", c.ID).Warn("client send buffer full, closing connection")
		c.Conn.Close()
	}
}

// writePump pumps messages from the send channel to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames until the connection dies.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.WithError(err).WithField("client_id", c.ID).Debug("websocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Protocol violations end the session; the error frame tells
			// the client why.
			c.send(Message{
				Type: "error",
				Data: command.Fail(apperrors.ErrCodeInvalidParams, "malformed message"),
				Time: time.Now().UTC(),
			})
			c.closeSend()
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *clientMessage) {
	if !c.authenticated() {
		if msg.Type != "auth" {
			c.send(Message{
				Type: "error",
				Data: command.Fail(apperrors.ErrCodeMissingKey, "authentication required"),
				Time: time.Now().UTC(),
			})
			c.closeSend()
			return
		}
		c.handleAuth(msg)
		return
	}

	switch msg.Type {
	case "auth":
		// Re-authentication is allowed, e.g. to upgrade the role.
		c.handleAuth(msg)
	case "get_status":
		snap := c.hub.collector.Snapshot(context.Background())
		c.send(statusFrame{Type: "status_update", Snapshot: snap, Time: time.Now().UTC()})
	case "command":
		c.handleCommand(msg)
	default:
		c.send(Message{
			Type: "error",
			Data: command.Fail(apperrors.ErrCodeInvalidParams, "unknown message type"),
			Time: time.Now().UTC(),
		})
	}
}

func (c *Client) handleAuth(msg *clientMessage) {
	var role auth.Role
	var err error
	switch {
	case msg.APIKey != "":
		role, err = c.hub.creds.Resolve(msg.APIKey)
	case msg.Token != "":
		role, err = c.hub.tokens.VerifyToken(msg.Token)
	default:
		err = apperrors.ErrMissingKey
	}

	if err != nil {
		appErr := apperrors.GetAppError(err)
		c.send(authResult{
			Type:    "auth_result",
			OK:      false,
			Code:    appErr.Code,
			Message: appErr.Message,
			Time:    time.Now().UTC(),
		})
		c.closeSend()
		return
	}

	c.markAuthenticated(role)
	c.send(authResult{
		Type:     "auth_result",
		OK:       true,
		Role:     role.String(),
		ClientID: c.ID,
		Time:     time.Now().UTC(),
	})
}

// handleCommand runs the command off the read loop so a long handler never
// blocks ping handling or further messages.
func (c *Client) handleCommand(msg *clientMessage) {
	if msg.Command == "" {
		c.send(Message{
			Type: "error",
			Data: command.Fail(apperrors.ErrCodeInvalidParams, "command is required"),
			Time: time.Now().UTC(),
		})
		return
	}

	inv := command.NewInvocation(msg.Command, msg.commandParams(), c.currentRole(), "websocket")
	go func() {
		res := c.hub.executor.Execute(context.Background(), inv)
		c.send(Message{
			Type: "command_result",
			Data: map[string]interface{}{"id": inv.ID, "result": res},
			Time: time.Now().UTC(),
		})
	}()
}

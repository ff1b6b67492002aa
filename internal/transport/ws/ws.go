// Package ws bridges socket connections to the hub workflows. Each socket
// becomes a transport.Connection with its own write pump; inbound frames are
// envelopes of {"event": name, "payload": body} dispatched to the matching
// workflow.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	router "github.com/goliatone/go-router"

	"github.com/hostcloudpe/notihub/pkg/domain"
	"github.com/hostcloudpe/notihub/pkg/hub"
	"github.com/hostcloudpe/notihub/pkg/interfaces/logger"
	"github.com/hostcloudpe/notihub/pkg/interfaces/transport"
)

// Inbound event names.
const (
	EventJoin   = "join"
	EventSend   = "send-notification"
	EventViewed = "notification-viewed"
	EventDelete = "delete-notification"
	EventNoop   = "ping"
)

// Config tunes the per-connection pumps.
type Config struct {
	PingInterval time.Duration
	SendBuffer   int
}

func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	return c
}

// socket is the slice of the router websocket surface the pumps need.
type socket interface {
	ConnectionID() string
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WritePing(data []byte) error
	CloseWithStatus(code int, reason string) error
	Close() error
}

// Handler upgrades sockets and runs their session loops.
type Handler struct {
	hub    *hub.Service
	cfg    Config
	logger logger.Logger
}

// NewHandler constructs the socket handler.
func NewHandler(svc *hub.Service, cfg Config, lgr logger.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("ws: hub service is required")
	}
	if lgr == nil {
		lgr = &logger.Nop{}
	}
	return &Handler{hub: svc, cfg: cfg.withDefaults(), logger: lgr}, nil
}

// Handle runs one socket session: it pumps outbound events until the peer
// goes away, dispatching every inbound envelope to the hub workflows.
// Invalid payloads are logged and dropped without an error frame.
func (h *Handler) Handle(ws router.WebSocketContext) error {
	return h.run(ws)
}

func (h *Handler) run(ws socket) error {
	client := newClient(ws, h.cfg)
	h.logger.Info("client connected", logger.F("conn_id", client.ID()))

	go client.writePump(h.logger)
	h.readPump(client)

	h.hub.Disconnect(client)
	client.close()
	h.logger.Info("client disconnected", logger.F("conn_id", client.ID()))
	return nil
}

func (h *Handler) readPump(client *Client) {
	for {
		_, raw, err := client.ws.ReadMessage()
		if err != nil {
			h.logger.Debug("read loop ended",
				logger.F("conn_id", client.ID()),
				logger.F("error", err))
			return
		}
		h.dispatch(client, raw)
	}
}

func (h *Handler) dispatch(client *Client, raw []byte) {
	var envelope struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.logger.Warn("malformed frame dropped",
			logger.F("conn_id", client.ID()),
			logger.F("error", err))
		return
	}

	ctx := context.Background()
	var err error
	switch envelope.Event {
	case EventJoin:
		err = h.handleJoin(ctx, client, envelope.Payload)
	case EventSend:
		err = h.handleSend(ctx, envelope.Payload)
	case EventViewed:
		err = h.handleViewed(ctx, client, envelope.Payload)
	case EventDelete:
		err = h.handleDelete(ctx, client, envelope.Payload)
	case EventNoop:
	default:
		h.logger.Debug("unknown event ignored",
			logger.F("conn_id", client.ID()),
			logger.F("event", envelope.Event))
		return
	}
	if err != nil {
		h.logger.Warn("event handling failed",
			logger.F("conn_id", client.ID()),
			logger.F("event", envelope.Event),
			logger.F("error", err))
	}
}

// joinMessage accepts both the current field names and the legacy
// "idproject"/"idnotifications" spellings older clients still send.
type joinMessage struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	IDProject string `json:"idproject"`
	RoleID    string `json:"role_id"`
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, raw json.RawMessage) error {
	var msg joinMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("ws: decode join: %w", err)
	}
	projectID := msg.ProjectID
	if projectID == "" {
		projectID = msg.IDProject
	}
	return h.hub.Join(ctx, client, hub.JoinPayload{
		UserID:    msg.UserID,
		ProjectID: projectID,
		RoleID:    msg.RoleID,
	})
}

type sendMessage struct {
	Target    domain.Target  `json:"target"`
	UserID    string         `json:"user_id"`
	ProjectID string         `json:"project_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at"`
	Metadata  domain.JSONMap `json:"metadata"`
}

func (h *Handler) handleSend(ctx context.Context, raw json.RawMessage) error {
	var msg sendMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("ws: decode send: %w", err)
	}
	target := msg.Target
	if target.Type == "" {
		// Legacy frames address by bare ids instead of a target object.
		switch {
		case msg.UserID != "":
			target = domain.Target{Type: domain.TargetUser, ID: msg.UserID}
		case msg.ProjectID != "":
			target = domain.Target{Type: domain.TargetProject, ID: msg.ProjectID}
		}
	}
	return h.hub.Send(ctx, hub.SendPayload{
		Target:    target,
		Title:     msg.Title,
		Message:   msg.Message,
		ExpiresAt: msg.ExpiresAt,
		Metadata:  msg.Metadata,
	})
}

type mutationMessage struct {
	NotificationID  string `json:"notification_id"`
	IDNotifications string `json:"idnotifications"`
	UserID          string `json:"user_id"`
}

func (m mutationMessage) id() string {
	if m.NotificationID != "" {
		return m.NotificationID
	}
	return m.IDNotifications
}

func (h *Handler) handleViewed(ctx context.Context, client *Client, raw json.RawMessage) error {
	var msg mutationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("ws: decode viewed: %w", err)
	}
	return h.hub.MarkSeen(ctx, client, hub.ViewedPayload{
		NotificationID: msg.id(),
		UserID:         msg.UserID,
	})
}

func (h *Handler) handleDelete(ctx context.Context, client *Client, raw json.RawMessage) error {
	var msg mutationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("ws: decode delete: %w", err)
	}
	return h.hub.Delete(ctx, client, hub.DeletePayload{
		NotificationID: msg.id(),
		UserID:         msg.UserID,
	})
}

// Client adapts one socket to transport.Connection. Sends are queued on a
// buffered channel drained by the write pump; a full queue drops the frame
// rather than blocking a broadcast.
type Client struct {
	ws  socket
	cfg Config

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ transport.Connection = (*Client)(nil)

func newClient(ws socket, cfg Config) *Client {
	return &Client{
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

// ID returns the socket's connection identifier.
func (c *Client) ID() string { return c.ws.ConnectionID() }

// Send queues one outbound event.
func (c *Client) Send(event transport.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ws: encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("ws: connection %s is closed", c.ID())
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("ws: send buffer full for %s", c.ID())
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump(lgr logger.Logger) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.ws.CloseWithStatus(1000, "session ended")
				return
			}
			if err := c.ws.WriteMessage(router.TextMessage, message); err != nil {
				lgr.Debug("write failed",
					logger.F("conn_id", c.ID()),
					logger.F("error", err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WritePing(nil); err != nil {
				lgr.Debug("ping failed",
					logger.F("conn_id", c.ID()),
					logger.F("error", err))
				return
			}
		}
	}
}

// RouteConfig returns the upgrade configuration for the socket route. The
// upgrade itself carries no identity; clients authenticate by sending a join
// event once connected, mirroring room-based sockets.
func RouteConfig(origins []string) router.WebSocketConfig {
	cfg := router.DefaultWebSocketConfig()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg.Origins = origins
	return cfg
}

package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
)

// Handler receives each decoded message event.
type Handler func(ctx context.Context, ev *Event)

// Client is a OneBot v11 reverse-WebSocket client (NapCat, go-cqhttp and
// compatible runtimes).
type Client struct {
	cfg     config.BotConfig
	logger  *logrus.Logger
	handler Handler

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	selfID      atomic.Int64
	echoCounter atomic.Int64
}

type apiRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo,omitempty"`
}

type sendGroupMsgParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

type sendPrivateMsgParams struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// NewClient creates a OneBot client. The handler is invoked once per
// message event, each on its own goroutine.
func NewClient(cfg config.BotConfig, handler Handler, logger *logrus.Logger) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// SelfID returns the bot's own account as resolved from received events,
// or 0 before the first event arrives.
func (c *Client) SelfID() int64 {
	return c.selfID.Load()
}

// Start connects to the host runtime and begins dispatching events. The
// initial connection may fail; the reconnect loop keeps retrying until the
// context is cancelled.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.WSUrl == "" {
		return fmt.Errorf("onebot ws_url not configured")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.logger.WithError(err).Warn("Initial OneBot connection failed, will retry")
	} else {
		go c.listen()
	}

	go c.reconnectLoop()

	c.logger.WithField("ws_url", c.cfg.WSUrl).Info("OneBot client started")
	return nil
}

// Stop closes the connection and stops the reconnect loop.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	conn, _, err := dialer.Dial(c.cfg.WSUrl, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("OneBot WebSocket connected")
	return nil
}

func (c *Client) reconnectLoop() {
	interval := time.Duration(c.cfg.ReconnectInterval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				c.logger.Info("Reconnecting to OneBot...")
				if err := c.connect(); err != nil {
					c.logger.WithError(err).Error("OneBot reconnect failed")
				} else {
					go c.listen()
				}
			}
		}
	}
}

func (c *Client) listen() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.logger.WithError(err).Error("OneBot WebSocket read error")
			c.mu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		var raw rawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			c.logger.WithError(err).Warn("Failed to decode OneBot event")
			continue
		}

		// API responses and meta events carry no message payload
		if raw.Echo != "" {
			continue
		}
		if selfID := jsonInt64(raw.SelfID); selfID > 0 {
			c.selfID.Store(selfID)
		}
		if raw.PostType != "message" {
			continue
		}

		ev := decodeEvent(&raw)
		if c.handler != nil {
			go c.handler(c.ctx, ev)
		}
	}
}

// SendGroupMessage sends plain text to a group.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, text string) error {
	return c.send("send_group_msg", sendGroupMsgParams{GroupID: groupID, Message: text})
}

// SendPrivateMessage sends plain text to a user.
func (c *Client) SendPrivateMessage(ctx context.Context, userID int64, text string) error {
	return c.send("send_private_msg", sendPrivateMsgParams{UserID: userID, Message: text})
}

func (c *Client) send(action string, params interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("onebot websocket not connected")
	}

	req := apiRequest{
		Action: action,
		Params: params,
		Echo:   fmt.Sprintf("send_%d", c.echoCounter.Add(1)),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal onebot request: %w", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write onebot request: %w", err)
	}
	return nil
}

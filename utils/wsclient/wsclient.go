// Package wsclient is the websocket connection shared by the streaming TTS
// clients: dial with retries, serialized writes, pings and reconnect on read
// failure.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voiceagent/core"
)

var ErrClosed = errors.New("wsclient: connection closed")

type Config struct {
	URL          string
	Header       http.Header
	Retries      int           // dial attempts, default 3
	RetryDelay   time.Duration // grows linearly per attempt, default 500ms
	PingInterval time.Duration // zero disables pings
	ReadTimeout  time.Duration // default 60s, extended by every pong
	WriteTimeout time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Client owns one logical connection that survives reconnects. Writers block
// while a reconnect is in progress.
type Client struct {
	config Config
	logger *core.Logger
	dialer *websocket.Dialer
	ctx    context.Context
	cancel context.CancelFunc

	reconnectMu sync.RWMutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	closed      bool
}

// Dial connects, retrying up to config.Retries times.
func Dial(ctx context.Context, config Config, logger *core.Logger) (*Client, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	c := &Client{
		config: config.withDefaults(),
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	conn, err := c.dialWithRetry()
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.conn = conn
	if c.config.PingInterval > 0 {
		go c.heartbeat()
	}
	return c, nil
}

func (c *Client) dialWithRetry() (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.Retries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(attempt)
			c.logger.Info("retrying websocket dial", "attempt", attempt+1, "delay", delay.String(), "error", lastErr)
			select {
			case <-c.ctx.Done():
				return nil, c.ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, _, err := c.dialer.DialContext(c.ctx, c.config.URL, c.config.Header)
		if err != nil {
			lastErr = err
			continue
		}
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		})
		return conn, nil
	}
	return nil, fmt.Errorf("wsclient: dial failed after %d attempts: %w", c.config.Retries, lastErr)
}

func (c *Client) current() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

// Run reads until the context ends or a reconnect fails. Each message is
// passed to onMessage on the reading goroutine.
func (c *Client) Run(onMessage func(messageType int, data []byte)) error {
	for {
		conn := c.current()
		if conn == nil {
			return ErrClosed
		}
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		messageType, data, err := conn.ReadMessage()
		if err == nil {
			onMessage(messageType, data)
			continue
		}
		if c.ctx.Err() != nil || c.isClosed() {
			return nil
		}
		c.logger.Warn("websocket read failed, reconnecting", "error", err)
		if err := c.reconnect(); err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Client) reconnect() error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.writeMu.Unlock()

	conn, err := c.dialWithRetry()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	return nil
}

// WriteJSON marshals v with sonic and sends it as a text frame.
func (c *Client) WriteJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsclient: marshal: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Client) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Client) write(messageType int, data []byte) error {
	c.reconnectMu.RLock()
	defer c.reconnectMu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil || c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) heartbeat() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil && !errors.Is(err, ErrClosed) {
				c.logger.Warn("websocket ping failed", "error", err)
			}
		}
	}
}

func (c *Client) isClosed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}

// Close sends a close frame and stops the heartbeat. Run returns nil after.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

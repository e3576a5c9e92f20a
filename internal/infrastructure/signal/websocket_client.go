package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientConfig struct {
	URL              string
	Header           http.Header
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	SendBuffer       int
}

func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   1 << 20,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		SendBuffer:       64,
	}
}

// WebSocketClient is the signaling channel. It keeps one connection open,
// reconnecting with exponential backoff, and delivers lifecycle and inbound
// events to the handler from a single goroutine.
type WebSocketClient struct {
	config  ClientConfig
	dialer  *websocket.Dialer
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	outgoing chan []byte
	done     chan struct{}
}

var _ ports.SignalChannel = (*WebSocketClient)(nil)

func NewWebSocketClient(config ClientConfig, metrics ports.Metrics, logger *zap.SugaredLogger) *WebSocketClient {
	defaults := DefaultClientConfig(config.URL)
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongTimeout <= config.PingInterval {
		config.PongTimeout = config.PingInterval * 2
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = defaults.ReconnectInitial
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = defaults.ReconnectMax
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	return &WebSocketClient{
		config:  config,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		metrics: metrics,
		logger:  logger.With("component", "signal_client"),
	}
}

// Run connects and serves the channel until ctx is cancelled. Every dropped
// connection is reported with OnChannelDown before the next attempt.
func (c *WebSocketClient) Run(ctx context.Context, handler ports.ChannelHandler) error {
	reconnecting := false
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if reconnecting {
			c.metrics.ChannelReconnected()
		}
		reconnecting = true

		err = c.serve(ctx, conn, handler)
		handler.OnChannelDown(err)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warnw("Signaling channel lost", "error", err)
	}
}

func (c *WebSocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInitial
	policy.MaxInterval = c.config.ReconnectMax
	policy.MaxElapsedTime = 0

	attempt := 0
	var conn *websocket.Conn
	op := func() error {
		attempt++
		var err error
		conn, _, err = c.dialer.DialContext(ctx, c.config.URL, c.config.Header)
		if err != nil {
			c.logger.Debugw("Signaling dial failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	c.logger.Infow("Signaling channel connected", "url", c.config.URL, "attempts", attempt)
	return conn, nil
}

// serve runs the read loop on the calling goroutine and the write loop on its
// own, returning when either side fails.
func (c *WebSocketClient) serve(ctx context.Context, conn *websocket.Conn, handler ports.ChannelHandler) error {
	outgoing := make(chan []byte, c.config.SendBuffer)
	done := make(chan struct{})

	c.mu.Lock()
	c.outgoing = outgoing
	c.done = done
	c.mu.Unlock()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.writePump(ctx, conn, outgoing, done)
	}()

	handler.OnChannelUp(ctx)
	readErr := c.readPump(ctx, conn, handler)

	c.mu.Lock()
	c.outgoing = nil
	c.done = nil
	close(done)
	c.mu.Unlock()

	conn.Close()
	wErr := <-writeErr
	if readErr == nil {
		readErr = wErr
	}
	return errors.Join(domain.ErrChannelLost, readErr)
}

func (c *WebSocketClient) readPump(ctx context.Context, conn *websocket.Conn, handler ports.ChannelHandler) error {
	conn.SetReadLimit(c.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("Signaling read failed", "error", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		event, err := Decode(frame)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrUnknownEvent):
				c.metrics.EventDropped("unknown_event")
			default:
				c.metrics.EventDropped("invalid_event")
			}
			c.logger.Debugw("Dropping signaling frame", "error", err)
			continue
		}
		handler.OnEvent(ctx, event)
	}
}

func (c *WebSocketClient) writePump(ctx context.Context, conn *websocket.Conn, outgoing <-chan []byte, done <-chan struct{}) error {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-outgoing:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.Close()
				return err
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return err
			}

		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return nil

		case <-done:
			return nil
		}
	}
}

// Emit queues an event for the current connection. Events are never held
// across a reconnect.
func (c *WebSocketClient) Emit(ctx context.Context, event domain.OutboundEvent) error {
	frame, err := Encode(event)
	if err != nil {
		return err
	}

	c.mu.RLock()
	outgoing, done := c.outgoing, c.done
	c.mu.RUnlock()
	if outgoing == nil {
		return domain.ErrChannelNotConnected
	}

	select {
	case outgoing <- frame:
		return nil
	case <-done:
		return domain.ErrChannelLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WebSocketClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outgoing != nil
}

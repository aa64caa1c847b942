package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/telemetry"
)

// ErrClosed is returned by Deliver after the relay connection has gone away.
var ErrClosed = errors.New("ws: connection closed")

// ClientConfig tunes a peer's relay connection.
type ClientConfig struct {
	Nickname     string
	WriteTimeout time.Duration
	Logger       telemetry.Logger
}

// Client is a peer's Link to the relay. A background reader queues inbound
// envelopes and self-state frames until the simulation drains them.
type Client struct {
	conn    *websocket.Conn
	logger  telemetry.Logger
	timeout time.Duration
	welcome proto.Welcome

	writeMu sync.Mutex

	mu     sync.Mutex
	inbox  []proto.Envelope
	states [][]byte
	err    error
	done   chan struct{}
}

// Dial connects to a relay and waits for its Welcome.
func Dial(ctx context.Context, relayURL string, cfg ClientConfig) (*Client, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if cfg.Nickname != "" {
		q := u.Query()
		q.Set("nick", cfg.Nickname)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		conn.Close()
		return nil, fmt.Errorf("await welcome: unexpected binary frame")
	}
	env, err := proto.Decode(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	welcome, ok := env.Message.(proto.Welcome)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("await welcome: got %s", env.Message.Kind())
	}

	c := &Client{
		conn:    conn,
		logger:  cfg.Logger,
		timeout: cfg.WriteTimeout,
		welcome: welcome,
		done:    make(chan struct{}),
	}
	go c.read()
	return c, nil
}

// Welcome returns the identity the relay assigned.
func (c *Client) Welcome() proto.Welcome { return c.welcome }

// Done is closed when the reader stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the reader stopped.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) read() {
	defer close(c.done)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		if messageType == websocket.BinaryMessage {
			c.mu.Lock()
			c.states = append(c.states, data)
			c.mu.Unlock()
			continue
		}
		env, err := proto.Decode(data)
		if err != nil {
			c.logger.Printf("discarding malformed relay frame: %v", err)
			continue
		}
		c.mu.Lock()
		c.inbox = append(c.inbox, env)
		c.mu.Unlock()
	}
}

// Deliver implements messaging.Transport.
func (c *Client) Deliver(ctx context.Context, env proto.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// PublishState sends a self-state frame. Failures surface through Done.
func (c *Client) PublishState(data []byte) {
	if err := c.write(websocket.BinaryMessage, data); err != nil {
		c.logger.Printf("publish self state: %v", err)
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Drain returns queued envelopes in arrival order.
func (c *Client) Drain() ([]proto.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queued := c.inbox
	c.inbox = nil
	return queued, nil
}

// DrainStates returns queued self-state frames.
func (c *Client) DrainStates() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	queued := c.states
	c.states = nil
	return queued
}

// Close sends a normal close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.timeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

var _ messaging.Link = (*Client)(nil)

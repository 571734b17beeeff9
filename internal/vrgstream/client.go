package vrgstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uvstream/vrgdisplay/internal/logger"
)

// ClientConfig configures a websocket connection to the streaming service.
type ClientConfig struct {
	// Endpoint is the ws:// or wss:// URL of the service.
	Endpoint string
	// HandshakeTimeout bounds dialing plus the Init round trip.
	HandshakeTimeout time.Duration
	// SubmitTimeout bounds one SubmitFrame round trip.
	SubmitTimeout time.Duration
}

// Client implements Stream over a websocket. The connection is opened by
// Init and re-opened lazily if it breaks.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	mode   ColorMode
	status Status
}

var _ Stream = (*Client)(nil)

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("vrgstream: empty endpoint")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = time.Second
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		status: StatusNotInitialized,
	}, nil
}

// Init dials the service if needed and initialises it for mode.
func (c *Client) Init(ctx context.Context, mode ColorMode) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	if c.conn == nil {
		if st := c.dialLocked(ctx); !st.OK() {
			c.status = st
			return st
		}
	}

	st := c.initLocked(ctx, mode)
	if st.OK() {
		c.mode = mode
	}
	c.status = st
	return st
}

// SubmitFrame sends one picture and waits for the service's ack.
func (c *Client) SubmitFrame(ctx context.Context, counter int64, data []byte) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == 0 {
		return StatusNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	if c.conn == nil {
		// The session broke earlier; restore it before this frame.
		if st := c.dialLocked(ctx); !st.OK() {
			c.status = st
			return st
		}
		if st := c.initLocked(ctx, c.mode); !st.OK() {
			c.status = st
			return st
		}
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.failLocked(err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(counter, data)); err != nil {
		return c.failLocked(err)
	}

	st := c.awaitAckLocked(ctx, opSubmit)
	c.status = st
	return st
}

// QueryStatus returns the result of the most recent call.
func (c *Client) QueryStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close drops the connection. The client may be re-initialised later.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = 0
	c.status = StatusNotInitialized
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dialLocked(ctx context.Context) Status {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		logger.WithComponent("vrgstream").Warn().
			Err(err).
			Str("endpoint", c.cfg.Endpoint).
			Msg("Failed to connect to streaming service")
		return StatusConnection
	}
	c.conn = conn
	return StatusOK
}

func (c *Client) initLocked(ctx context.Context, mode ColorMode) Status {
	payload, err := json.Marshal(controlMessage{Type: msgInit, ColorMode: mode.String()})
	if err != nil {
		return StatusInternal
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.failLocked(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return c.failLocked(err)
	}
	return c.awaitAckLocked(ctx, opInit)
}

func (c *Client) awaitAckLocked(ctx context.Context, op string) Status {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return c.failLocked(err)
	}

	kind, msg, err := c.conn.ReadMessage()
	if err != nil {
		return c.failLocked(err)
	}
	if kind != websocket.TextMessage {
		return c.failLocked(fmt.Errorf("unexpected message type %d", kind))
	}

	var ack ackMessage
	if err := json.Unmarshal(msg, &ack); err != nil {
		return c.failLocked(fmt.Errorf("decode ack: %w", err))
	}
	if ack.Type != msgAck || ack.Op != op {
		return c.failLocked(fmt.Errorf("ack for %q while waiting for %q", ack.Op, op))
	}
	return ack.Status
}

// failLocked drops a connection whose request/ack pairing can no longer
// be trusted and maps err to a status.
func (c *Client) failLocked(err error) Status {
	st := StatusConnection
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		st = StatusTimeout
	}

	logger.WithComponent("vrgstream").Debug().
		Err(err).
		Str("status", st.String()).
		Msg("Dropping streaming service connection")

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status = st
	return st
}

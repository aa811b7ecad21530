package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/types"
)

type Signal int

const (
	SignalConnected Signal = iota
	SignalDisconnect
	SignalPermanentDisconnect
)

func (s Signal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalDisconnect:
		return "disconnect"
	case SignalPermanentDisconnect:
		return "permanent-disconnect"
	}
	return "unknown"
}

var subscriptions = []string{
	"tm.event='NewBlock'",
	"tm.event='Vote'",
	"tm.event='Tx'",
}

type Options struct {
	RetryInterval    time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

// Client holds one subscription to NewBlock, Vote and Tx events and pushes parsed
// events onto the events channel.
type Client struct {
	url     string
	opts    Options
	events  chan<- types.Event
	signals chan Signal
	dialer  *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	generation  uint64
	cancelRetry context.CancelFunc
	lastErr     error
	// base is the context handed to Connect; every retry loop derives from it
	base     context.Context
	retryCtx context.Context
}

func NewClient(endpoint string, events chan<- types.Event, opts Options) *Client {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		url:     NormalizeWebsocketURL(endpoint),
		opts:    opts,
		events:  events,
		signals: make(chan Signal, 16),
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// URL returns the normalized websocket endpoint.
func (c *Client) URL() string {
	return c.url
}

// Signals reports connection transitions. Slow readers miss signals rather than
// blocking the client.
func (c *Client) Signals() <-chan Signal {
	return c.signals
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the most recent dial or read error.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect dials and subscribes. A pending retry loop is abandoned. Callers must not
// call Connect while a connection is already up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry, c.retryCtx = nil, nil
	}
	c.base = ctx
	c.mu.Unlock()
	return c.dial(ctx)
}

// Disconnect force-closes the transport and stops any retry loop. Safe to call at any time.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry, c.retryCtx = nil, nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setErr(err)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	for i, q := range subscriptions {
		req := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "subscribe",
			"id":      i + 1,
			"params":  map[string]string{"query": q},
		}
		if err := conn.WriteJSON(req); err != nil {
			_ = conn.Close()
			c.setErr(err)
			return fmt.Errorf("subscribe %s: %w", q, err)
		}
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	c.generation++
	gen := c.generation
	c.conn = conn
	c.connected = true
	c.lastErr = nil
	c.mu.Unlock()

	logger.Info("WS", "Connected to %s, subscribed to %d queries", c.url, len(subscriptions))
	c.emit(SignalConnected)
	go c.readLoop(ctx, conn, gen)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(ctx, gen, err)
			return
		}
		ev, err := ParseMessage(data)
		if err != nil {
			logger.Warn("WS", "Dropping malformed message: %v", err)
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleClose(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		// closed on purpose by Disconnect or replaced by a newer connection
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.lastErr = err
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	parent := c.base
	if parent == nil {
		parent = ctx
	}
	// the previous retry loop has finished; release its context
	if c.cancelRetry != nil {
		c.cancelRetry()
	}
	retryCtx, cancel := context.WithCancel(parent)
	c.retryCtx, c.cancelRetry = retryCtx, cancel
	c.mu.Unlock()

	logger.Warn("WS", "Connection closed: %v", err)
	c.emit(SignalDisconnect)
	go c.retry(retryCtx)
}

// retry redials at a fixed interval until it succeeds or the attempts run out.
func (c *Client) retry(ctx context.Context) {
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.RetryInterval):
		}
		if ctx.Err() != nil {
			return
		}
		if err := c.dial(ctx); err != nil {
			logger.Warn("WS", "Reconnect attempt %d/%d failed: %v", attempt, c.opts.MaxAttempts, err)
			continue
		}
		logger.Info("WS", "Reconnected after %d attempt(s)", attempt)
		return
	}
	logger.Error("WS", "Giving up after %d reconnect attempts", c.opts.MaxAttempts)
	c.emit(SignalPermanentDisconnect)
}

func (c *Client) emit(s Signal) {
	select {
	case c.signals <- s:
	default:
		logger.Debug("WS", "Signal %s dropped, no reader", s)
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

var errEmptyURL = errors.New("empty url")

// NormalizeWebsocketURL turns an RPC endpoint into its websocket form:
// http(s)://host:26657 becomes ws(s)://host:26657/websocket. Unparseable input is
// returned unchanged so the dial error surfaces instead.
func NormalizeWebsocketURL(raw string) string {
	u, err := parseURL(raw)
	if err != nil {
		logger.Warn("WS", "Cannot normalize url %q: %v", raw, err)
		return raw
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	}
	return u.String()
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return url.Parse(raw)
}

package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Config holds client tunables.
type Config struct {
	// ReconnectBase is the initial delay before a reconnect attempt;
	// it doubles on consecutive failures up to ReconnectMax.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBase: time.Second,
		ReconnectMax:  30 * time.Second,
	}
}

// Client maintains the websocket connection to the server's event
// channel. It owns automatic reconnection; consumers only react to
// delivered events and state transitions.
type Client struct {
	url      string
	apiKey   string
	deviceID string
	handler  func(Event)
	cfg      Config

	mu      sync.Mutex
	state   State
	onState func(State)
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a client for the event channel at baseURL. The handler
// is invoked for every received event, on the connection goroutine.
func New(baseURL, apiKey, deviceID string, handler func(Event), cfg Config) *Client {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultConfig().ReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultConfig().ReconnectMax
	}
	return &Client{
		url:      baseURL + "/v1/tasks/events",
		apiKey:   apiKey,
		deviceID: deviceID,
		handler:  handler,
		cfg:      cfg,
		state:    StateDisconnected,
	}
}

// OnStateChange registers a callback for connection state transitions.
// Must be called before Connect.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Connect starts the connection loop. It returns immediately; events
// flow to the handler until Close or ctx cancellation.
func (c *Client) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Close tears down the connection and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// run dials, reads until failure, and reconnects with backoff.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	delay := c.cfg.ReconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateError)
			slog.Debug("realtime: dial failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, c.cfg.ReconnectMax)
			continue
		}

		c.setState(StateConnected)
		delay = c.cfg.ReconnectBase
		c.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return
		}
		c.setState(StateError)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.deviceID != "" {
		header.Set("X-Device-ID", c.deviceID)
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	return conn, err
}

// readLoop delivers events until the connection breaks.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() == nil {
				slog.Debug("realtime: read failed", "err", err)
			}
			return
		}
		c.handler(ev)
	}
}

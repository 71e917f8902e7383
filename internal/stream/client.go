package stream

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// ErrStale is the disconnect reason when no message arrived within the
// staleness timeout.
var ErrStale = errors.New("stream stale")

// Conn is one established stream connection.
type Conn interface {
	// Recv blocks for the next message.
	Recv() (Message, error)
	Close() error
}

// Transport opens stream connections, resuming after lastEventID when it
// is non-zero.
type Transport interface {
	Connect(ctx context.Context, lastEventID uint64) (Conn, error)
}

// ClientConfig configures reconnect behavior.
type ClientConfig struct {
	// BaseDelay is the first reconnect delay.
	BaseDelay time.Duration
	// MaxDelay caps the reconnect delay.
	MaxDelay time.Duration
	// StaleTimeout forces a reconnect when no message (heartbeats
	// included) arrives for this long.
	StaleTimeout time.Duration
}

// DefaultClientConfig returns default client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		StaleTimeout: 45 * time.Second,
	}
}

// Client consumes a stream and reconnects with exponential backoff until
// closed. Disconnects are never fatal.
type Client struct {
	transport Transport
	cfg       ClientConfig
	logger    logrus.FieldLogger

	onMessage func(Message)
	onState   func(from, to State)

	mu    sync.Mutex
	state State

	lastID    atomic.Uint64
	attempts  atomic.Int64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// OnMessage sets the handler for every received message. Handlers run on
// the client goroutine.
func OnMessage(fn func(Message)) ClientOption {
	return func(c *Client) {
		c.onMessage = fn
	}
}

// OnStateChange sets the handler for state transitions.
func OnStateChange(fn func(from, to State)) ClientOption {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithLastEventID starts the client resuming after id.
func WithLastEventID(id uint64) ClientOption {
	return func(c *Client) {
		c.lastID.Store(id)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client over transport.
func NewClient(transport Transport, cfg ClientConfig, opts ...ClientOption) *Client {
	def := DefaultClientConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}

	c := &Client{
		transport: transport,
		cfg:       cfg,
		logger:    logrus.StandardLogger(),
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastEventID returns the id presented on the next reconnect.
func (c *Client) LastEventID() uint64 {
	return c.lastID.Load()
}

// Attempts returns the number of consecutive failed connection cycles.
func (c *Client) Attempts() int {
	return int(c.attempts.Load())
}

// Close disconnects and suppresses further reconnects.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("stream client state change")
	if c.onState != nil {
		c.onState(from, to)
	}
}

// Run connects and consumes until ctx is done or Close is called.
// It always returns nil after leaving the DISCONNECTED state behind for good.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.stopped(ctx) {
			c.setState(StateDisconnected)
			return nil
		}

		c.setState(StateConnecting)
		conn, err := c.transport.Connect(ctx, c.lastID.Load())
		if err == nil {
			c.setState(StateConnected)
			c.attempts.Store(0)
			err = c.consume(ctx, conn)
			_ = conn.Close()
		}

		c.setState(StateDisconnected)
		if c.stopped(ctx) {
			return nil
		}

		attempt := int(c.attempts.Add(1)) - 1
		delay := Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		c.logger.WithFields(logrus.Fields{
			"attempt":       attempt + 1,
			"delay":         delay.String(),
			"last_event_id": c.lastID.Load(),
		}).WithError(err).Info("stream disconnected, reconnecting")

		c.setState(StateReconnecting)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-c.done:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	return c.closed.Load() || ctx.Err() != nil
}

// consume reads from conn until it fails, goes stale, or the client stops.
func (c *Client) consume(ctx context.Context, conn Conn) error {
	msgs := make(chan Message)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			m, err := conn.Recv()
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- m:
			case <-stop:
				return
			}
		}
	}()

	stale := time.NewTimer(c.cfg.StaleTimeout)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case err := <-errc:
			return err
		case <-stale.C:
			return ErrStale
		case m := <-msgs:
			stale.Reset(c.cfg.StaleTimeout)
			if m.ID > 0 {
				c.lastID.Store(m.ID)
			}
			if c.onMessage != nil {
				c.onMessage(m)
			}
		}
	}
}

// Backoff returns base*2^attempt plus up to base of jitter, capped at maxDelay.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if base > 0 {
		d += rand.N(base)
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

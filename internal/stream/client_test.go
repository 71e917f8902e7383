package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs   chan Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan Message, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Recv() (Message, error) {
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return Message{}, io.EOF
		}
		return m, nil
	case <-c.closed:
		return Message{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	lastIDs  []uint64
	conns    chan *fakeConn
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures, conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Connect(_ context.Context, lastEventID uint64) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastIDs = append(t.lastIDs, lastEventID)
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func (t *fakeTransport) connects() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint64(nil), t.lastIDs...)
}

func (t *fakeTransport) next(tb testing.TB) *fakeConn {
	tb.Helper()
	select {
	case c := <-t.conns:
		return c
	case <-time.After(2 * time.Second):
		tb.Fatal("no connection")
		return nil
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

var fastConfig = ClientConfig{
	BaseDelay:    5 * time.Millisecond,
	MaxDelay:     20 * time.Millisecond,
	StaleTimeout: time.Second,
}

func runClient(t *testing.T, c *Client) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		c.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return done
}

func TestClient_ReconnectsPresentingLastEventID(t *testing.T) {
	tr := newFakeTransport(0)
	rec := &stateRecorder{}

	var mu sync.Mutex
	var got []uint64
	c := NewClient(tr, fastConfig,
		OnStateChange(rec.record),
		OnMessage(func(m Message) {
			mu.Lock()
			got = append(got, m.ID)
			mu.Unlock()
		}),
	)
	runClient(t, c)

	conn := tr.next(t)
	conn.msgs <- Message{ID: 41, Type: TypeSentimentUpdate}
	conn.msgs <- Message{ID: 42, Type: TypeSentimentUpdate}
	conn.msgs <- Message{Type: TypeHeartbeat}
	close(conn.msgs)

	conn = tr.next(t)
	conn.msgs <- Message{ID: 43, Type: TypeSentimentUpdate}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{0, 42}, tr.connects())
	assert.Equal(t, uint64(43), c.LastEventID())

	mu.Lock()
	assert.Equal(t, []uint64{41, 42, 0, 43}, got)
	mu.Unlock()

	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateDisconnected, StateReconnecting,
		StateConnecting, StateConnected,
	}, rec.get())
}

func TestClient_CloseSuppressesReconnect(t *testing.T) {
	tr := newFakeTransport(0)
	c := NewClient(tr, fastConfig)
	done := runClient(t, c)

	tr.next(t)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, tr.connects(), 1)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_StaleConnectionForcesReconnect(t *testing.T) {
	tr := newFakeTransport(0)
	cfg := fastConfig
	cfg.StaleTimeout = 30 * time.Millisecond
	c := NewClient(tr, cfg)
	runClient(t, c)

	first := tr.next(t)
	first.msgs <- Message{ID: 7, Type: TypeSentimentUpdate}

	tr.next(t)
	_, ok := <-first.closed
	assert.False(t, ok, "stale connection is closed")
	assert.Equal(t, uint64(7), tr.connects()[1])
}

func TestClient_BacksOffOnConnectFailures(t *testing.T) {
	tr := newFakeTransport(3)
	c := NewClient(tr, fastConfig)
	runClient(t, c)

	tr.next(t)
	assert.Len(t, tr.connects(), 4)
	require.Eventually(t, func() bool { return c.Attempts() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_ContextCancelStops(t *testing.T) {
	tr := newFakeTransport(0)
	c := NewClient(tr, fastConfig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	tr.next(t)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second

	for attempt := 0; attempt < 6; attempt++ {
		d := Backoff(base, maxDelay, attempt)
		lo := base << attempt
		assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
		assert.Less(t, d, lo+base, "attempt %d", attempt)
	}

	assert.Equal(t, maxDelay, Backoff(base, maxDelay, 20))
	assert.Equal(t, maxDelay, Backoff(base, maxDelay, 1000))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

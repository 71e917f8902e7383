package stream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/observability"
)

var (
	// ErrSlowSubscriber closes a subscription whose buffer overflowed.
	// The client must reconnect and resume from its last event id.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	// ErrHubClosed closes every subscription on shutdown.
	ErrHubClosed = errors.New("hub closed")
	// ErrUnsubscribed closes a subscription removed by its owner.
	ErrUnsubscribed = errors.New("unsubscribed")
)

// HubConfig configures the Hub.
type HubConfig struct {
	// BufferSize is the number of published messages retained for resume.
	BufferSize int
	// ClientBuffer is the per-subscription queue length.
	ClientBuffer int
	// HeartbeatInterval is the period of heartbeat messages.
	HeartbeatInterval time.Duration
}

// DefaultHubConfig returns the default hub settings.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:        1024,
		ClientBuffer:      256,
		HeartbeatInterval: 15 * time.Second,
	}
}

// SubscribeOptions selects what a new subscription receives.
type SubscribeOptions struct {
	// ClientID identifies the subscriber. Generated when empty.
	ClientID string
	// LastEventID is the last stream id the client processed; zero for a
	// fresh subscription without replay.
	LastEventID uint64
	// Symbols filters sentiment updates. Empty receives all symbols.
	Symbols []string
}

// Subscription is one connected client.
type Subscription struct {
	ClientID string
	// ResumedFrom is the LastEventID presented on subscribe.
	ResumedFrom uint64
	ConnectedAt int64
	// ResyncRequired is set when ResumedFrom could not be replayed; the
	// first queued message is then a resync.
	ResyncRequired bool
	// Replayed is the number of buffered messages queued on subscribe.
	Replayed int

	symbols map[string]struct{}
	ch      chan Message
	err     error
	// lastQueued is the highest stream id queued to ch, guarded by Hub.mu.
	lastQueued uint64
}

// Messages returns the queue of messages. It is closed when the
// subscription ends; Err then reports why.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Err returns the reason the subscription ended. Valid after Messages is closed.
func (s *Subscription) Err() error {
	return s.err
}

// Symbols returns the symbol filter, sorted.
func (s *Subscription) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Subscription) wants(symbol string) bool {
	if len(s.symbols) == 0 || symbol == "" {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// SubscriptionInfo describes a live subscription.
type SubscriptionInfo struct {
	ClientID string `json:"clientId"`
	// LastEventID is the highest stream id queued to the client.
	LastEventID uint64   `json:"lastEventId"`
	ResumedFrom uint64   `json:"resumedFrom,omitempty"`
	ConnectedAt int64    `json:"connectedAt"`
	Symbols     []string `json:"symbols,omitempty"`
	Queued      int      `json:"queued"`
}

// Hub fans out published messages to subscriptions and retains the most
// recent ones for resume.
type Hub struct {
	cfg    HubConfig
	logger logrus.FieldLogger
	now    func() time.Time

	mu     sync.Mutex
	nextID uint64
	ring   []Message
	start  int
	count  int
	subs   map[string]*Subscription
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(l logrus.FieldLogger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithHubClock sets the time source.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig, opts ...HubOption) *Hub {
	def := DefaultHubConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}

	h := &Hub{
		cfg:    cfg,
		logger: logrus.StandardLogger(),
		now:    time.Now,
		ring:   make([]Message, cfg.BufferSize),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish assigns the next stream id to msg, retains it for resume and
// queues it to every matching subscription. Subscriptions whose queue is
// full are closed with ErrSlowSubscriber.
func (h *Hub) Publish(msg Message) (Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Message{}, ErrHubClosed
	}

	h.nextID++
	msg.ID = h.nextID
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	h.retain(msg)

	for id, sub := range h.subs {
		if !sub.wants(msg.Symbol) {
			continue
		}
		select {
		case sub.ch <- msg:
			sub.lastQueued = msg.ID
		default:
			h.dropLocked(id, sub, ErrSlowSubscriber)
			observability.RecordStreamDrop()
			h.logger.WithFields(logrus.Fields{
				"client_id":     id,
				"last_event_id": sub.lastQueued,
			}).Warn("dropping slow stream subscriber")
		}
	}

	observability.RecordStreamPublish(string(msg.Type))
	return msg, nil
}

// retain must be called with mu held.
func (h *Hub) retain(msg Message) {
	size := len(h.ring)
	if h.count < size {
		h.ring[(h.start+h.count)%size] = msg
		h.count++
		return
	}
	h.ring[h.start] = msg
	h.start = (h.start + 1) % size
}

// Subscribe registers a subscription. When opts.LastEventID is set, the
// buffered messages after it are queued first in publish order. If that id
// is no longer buffered (or unknown) a resync message is queued instead
// and ResyncRequired is set.
func (h *Hub) Subscribe(opts SubscribeOptions) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	id := opts.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	if old, ok := h.subs[id]; ok {
		h.dropLocked(id, old, ErrUnsubscribed)
	}

	var (
		replay []Message
		resync bool
	)
	if opts.LastEventID > 0 {
		replay, resync = h.replayLocked(opts.LastEventID)
	}

	sub := &Subscription{
		ClientID:       id,
		ResumedFrom:    opts.LastEventID,
		ConnectedAt:    h.now().UnixMilli(),
		ResyncRequired: resync,
		symbols:        make(map[string]struct{}, len(opts.Symbols)),
		lastQueued:     opts.LastEventID,
	}
	for _, s := range opts.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			sub.symbols[s] = struct{}{}
		}
	}

	capacity := h.cfg.ClientBuffer + len(replay)
	if resync {
		capacity++
	}
	sub.ch = make(chan Message, capacity)
	if resync {
		sub.ch <- Message{Type: TypeResync, Timestamp: h.now().UnixMilli()}
		sub.lastQueued = 0
	}
	for _, m := range replay {
		if sub.wants(m.Symbol) {
			sub.ch <- m
			sub.lastQueued = m.ID
			sub.Replayed++
		}
	}

	h.subs[id] = sub
	observability.UpdateStreamSubscribers(len(h.subs))
	return sub, nil
}

// replayLocked returns buffered messages with id > last. resync is true
// when messages after last were evicted or last is ahead of the stream.
func (h *Hub) replayLocked(last uint64) (replay []Message, resync bool) {
	if last > h.nextID {
		return nil, true
	}
	if h.count == 0 {
		// Nothing retained; only a client fully caught up may resume.
		return nil, last != h.nextID
	}
	oldest := h.ring[h.start].ID
	if last+1 < oldest {
		return nil, true
	}
	size := len(h.ring)
	for i := 0; i < h.count; i++ {
		m := h.ring[(h.start+i)%size]
		if m.ID > last {
			replay = append(replay, m)
		}
	}
	return replay, false
}

// Unsubscribe removes a subscription and closes its queue.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.subs[sub.ClientID]; ok && cur == sub {
		h.dropLocked(sub.ClientID, sub, ErrUnsubscribed)
	}
}

// dropLocked must be called with mu held.
func (h *Hub) dropLocked(id string, sub *Subscription, reason error) {
	delete(h.subs, id)
	sub.err = reason
	close(sub.ch)
	observability.UpdateStreamSubscribers(len(h.subs))
}

// Heartbeat queues a heartbeat to every subscription. A full queue skips
// the heartbeat; the next publish decides whether that subscriber is slow.
func (h *Hub) Heartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := Message{Type: TypeHeartbeat, Timestamp: h.now().UnixMilli()}
	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	observability.RecordStreamPublish(string(TypeHeartbeat))
}

// Run sends heartbeats until ctx is done, then closes the hub.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}

// Close ends every subscription with ErrHubClosed. Later publishes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		h.dropLocked(id, sub, ErrHubClosed)
	}
}

// LastID returns the most recently assigned stream id.
func (h *Hub) LastID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextID
}

// Subscriptions lists live subscriptions ordered by client id.
func (h *Hub) Subscriptions() []SubscriptionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SubscriptionInfo, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, SubscriptionInfo{
			ClientID:    sub.ClientID,
			LastEventID: sub.lastQueued,
			ResumedFrom: sub.ResumedFrom,
			ConnectedAt: sub.ConnectedAt,
			Symbols:     sub.Symbols(),
			Queued:      len(sub.ch),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/storage"
)

// CanonicalEventStore is an in-memory implementation of storage.CanonicalEventStore.
type CanonicalEventStore struct {
	window time.Duration

	mu     sync.RWMutex
	data   map[string]*domain.CanonicalEvent // keyed by event_id
	hashes map[hashKey][]string              // event_ids per (symbol, content hash)
}

type hashKey struct {
	symbol string
	hash   string
}

// EventStoreOption configures a CanonicalEventStore.
type EventStoreOption func(*CanonicalEventStore)

// WithMatchWindow sets how far apart two events sharing a content hash may
// be and still resolve to one record. Default: storage.DefaultMatchWindow.
func WithMatchWindow(d time.Duration) EventStoreOption {
	return func(s *CanonicalEventStore) {
		s.window = d
	}
}

// NewCanonicalEventStore creates a new in-memory canonical event store.
func NewCanonicalEventStore(opts ...EventStoreOption) *CanonicalEventStore {
	s := &CanonicalEventStore{
		window: storage.DefaultMatchWindow,
		data:   make(map[string]*domain.CanonicalEvent),
		hashes: make(map[hashKey][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts the event or merges its sources into the stored record of
// the same item.
func (s *CanonicalEventStore) Upsert(_ context.Context, e *domain.CanonicalEvent) (bool, error) {
	if e == nil || e.EventID == "" || e.Symbol == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[e.EventID]
	if !ok {
		existing = s.match(e)
	}
	if existing != nil {
		existing.Sources = domain.MergeSources(existing.Sources, e.Sources)
		s.index(e.Symbol, e.Hashes(), existing.EventID)
		e.EventID = existing.EventID
		e.Timestamp = existing.Timestamp
		return false, nil
	}

	c := copyEvent(e)
	c.MatchHashes = nil
	s.data[e.EventID] = c
	s.index(e.Symbol, e.Hashes(), e.EventID)
	return true, nil
}

// match returns the earliest stored event of e.Symbol sharing a content hash
// with e within the match window. Must be called with mu held.
func (s *CanonicalEventStore) match(e *domain.CanonicalEvent) *domain.CanonicalEvent {
	window := s.window.Milliseconds()
	var best *domain.CanonicalEvent
	for _, h := range e.Hashes() {
		for _, id := range s.hashes[hashKey{e.Symbol, h}] {
			c := s.data[id]
			d := c.Timestamp - e.Timestamp
			if d <= -window || d >= window {
				continue
			}
			if best == nil || c.Timestamp < best.Timestamp ||
				(c.Timestamp == best.Timestamp && c.EventID < best.EventID) {
				best = c
			}
		}
	}
	return best
}

// index must be called with mu held.
func (s *CanonicalEventStore) index(symbol string, hashes []string, eventID string) {
	for _, h := range hashes {
		k := hashKey{symbol, h}
		ids := s.hashes[k]
		known := false
		for _, id := range ids {
			if id == eventID {
				known = true
				break
			}
		}
		if !known {
			s.hashes[k] = append(ids, eventID)
		}
	}
}

// GetByID retrieves an event by its ID.
func (s *CanonicalEventStore) GetByID(_ context.Context, eventID string) (*domain.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[eventID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEvent(e), nil
}

// GetBySymbol retrieves events for a symbol within [start, end).
func (s *CanonicalEventStore) GetBySymbol(_ context.Context, symbol string, start, end int64) ([]*domain.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CanonicalEvent
	for _, e := range s.data {
		if e.Symbol == symbol && e.Timestamp >= start && e.Timestamp < end {
			result = append(result, copyEvent(e))
		}
	}
	sortEvents(result)
	return result, nil
}

// GetLatestBySymbol retrieves the most recent event for a symbol.
func (s *CanonicalEventStore) GetLatestBySymbol(_ context.Context, symbol string) (*domain.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CanonicalEvent
	for _, e := range s.data {
		if e.Symbol != symbol {
			continue
		}
		if latest == nil || e.Timestamp > latest.Timestamp ||
			(e.Timestamp == latest.Timestamp && e.EventID > latest.EventID) {
			latest = e
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copyEvent(latest), nil
}

func copyEvent(e *domain.CanonicalEvent) *domain.CanonicalEvent {
	c := *e
	c.Sources = append([]domain.Provider(nil), e.Sources...)
	c.MatchHashes = append([]string(nil), e.MatchHashes...)
	return &c
}

func sortEvents(events []*domain.CanonicalEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].EventID < events[j].EventID
	})
}

// Compile-time interface check.
var _ storage.CanonicalEventStore = (*CanonicalEventStore)(nil)

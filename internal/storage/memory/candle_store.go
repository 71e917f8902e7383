package memory

import (
	"context"
	"sort"
	"sync"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/storage"
)

type candleKey struct {
	symbol string
	date   int64
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]domain.Candle),
	}
}

// UpsertBulk stores candles, replacing existing (symbol, date) entries.
func (s *CandleStore) UpsertBulk(_ context.Context, candles []domain.Candle) error {
	for _, c := range candles {
		if c.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		s.data[candleKey{symbol: c.Symbol, date: c.Date}] = c
	}
	return nil
}

// GetRange retrieves candles with date in [start, end), ordered by date ASC.
func (s *CandleStore) GetRange(_ context.Context, symbol string, start, end int64) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for k, c := range s.data {
		if k.symbol == symbol && k.date >= start && k.date < end {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

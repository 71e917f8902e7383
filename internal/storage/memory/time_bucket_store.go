package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/storage"
)

// TimeBucketStore is an in-memory implementation of storage.TimeBucketStore.
// A single lock makes each AddSample atomic across the bucket and its
// processed-event set.
type TimeBucketStore struct {
	mu        sync.RWMutex
	buckets   map[domain.BucketKey]*domain.TimeBucket
	processed map[domain.BucketKey]map[string]struct{}
	now       func() time.Time
}

// NewTimeBucketStore creates a new in-memory time bucket store.
func NewTimeBucketStore() *TimeBucketStore {
	return &TimeBucketStore{
		buckets:   make(map[domain.BucketKey]*domain.TimeBucket),
		processed: make(map[domain.BucketKey]map[string]struct{}),
		now:       time.Now,
	}
}

// AddSample folds score into the bucket unless eventID was already applied.
func (s *TimeBucketStore) AddSample(_ context.Context, key domain.BucketKey, eventID string, score float64) (bool, error) {
	if key.Symbol == "" || !key.Resolution.IsValid() || eventID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.processed[key]
	if !ok {
		seen = make(map[string]struct{})
		s.processed[key] = seen
	}
	if _, dup := seen[eventID]; dup {
		return false, nil
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &domain.TimeBucket{
			Symbol:      key.Symbol,
			Resolution:  key.Resolution,
			BucketStart: key.BucketStart,
		}
		s.buckets[key] = b
	}
	b.AddSample(score)
	b.UpdatedAt = s.now().UnixMilli()
	seen[eventID] = struct{}{}
	return true, nil
}

// Get retrieves a single bucket.
func (s *TimeBucketStore) Get(_ context.Context, key domain.BucketKey) (*domain.TimeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *b
	return &c, nil
}

// GetRange retrieves buckets with bucket_start in [start, end).
func (s *TimeBucketStore) GetRange(_ context.Context, symbol string, res domain.Resolution, start, end int64) ([]*domain.TimeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TimeBucket
	for k, b := range s.buckets {
		if k.Symbol == symbol && k.Resolution == res && k.BucketStart >= start && k.BucketStart < end {
			c := *b
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})
	return result, nil
}

// Compile-time interface check.
var _ storage.TimeBucketStore = (*TimeBucketStore)(nil)

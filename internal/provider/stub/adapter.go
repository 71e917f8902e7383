package stub

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/provider"
)

// Adapter is a scriptable in-memory provider for testing.
// Implements provider.Adapter interface.
type Adapter struct {
	name domain.Provider

	mu             sync.Mutex
	items          map[string][]domain.RawItem
	candles        map[string][]domain.Candle
	sentimentErrs  []error // consumed in order before falling back to sentimentErr
	ohlcErrs       []error
	sentimentErr   error
	ohlcErr        error
	delay          time.Duration
	sentimentCalls int
	ohlcCalls      int
}

// NewAdapter creates a new stub adapter.
func NewAdapter(name domain.Provider) *Adapter {
	return &Adapter{
		name:    name,
		items:   make(map[string][]domain.RawItem),
		candles: make(map[string][]domain.Candle),
	}
}

// SetItems sets the sentiment items returned for symbol.
func (a *Adapter) SetItems(symbol string, items ...domain.RawItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[symbol] = items
}

// SetCandles sets the candles returned for symbol.
func (a *Adapter) SetCandles(symbol string, candles ...domain.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candles[symbol] = candles
}

// QueueSentimentErrors scripts the results of the next FetchSentiment calls.
// A nil entry means that call succeeds.
func (a *Adapter) QueueSentimentErrors(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sentimentErrs = append(a.sentimentErrs, errs...)
}

// QueueOHLCErrors scripts the results of the next FetchOHLC calls.
func (a *Adapter) QueueOHLCErrors(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ohlcErrs = append(a.ohlcErrs, errs...)
}

// SetSentimentError makes every unscripted FetchSentiment call fail with err.
func (a *Adapter) SetSentimentError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sentimentErr = err
}

// SetOHLCError makes every unscripted FetchOHLC call fail with err.
func (a *Adapter) SetOHLCError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ohlcErr = err
}

// SetDelay makes every call wait d before answering, honoring ctx.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// SentimentCalls returns the number of FetchSentiment calls made.
func (a *Adapter) SentimentCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sentimentCalls
}

// OHLCCalls returns the number of FetchOHLC calls made.
func (a *Adapter) OHLCCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ohlcCalls
}

// Name returns the provider identity.
func (a *Adapter) Name() domain.Provider {
	return a.name
}

// FetchSentiment returns copies of the configured items for symbol.
func (a *Adapter) FetchSentiment(ctx context.Context, symbol string, _ time.Duration) ([]domain.RawItem, error) {
	a.mu.Lock()
	a.sentimentCalls++
	err := next(&a.sentimentErrs, a.sentimentErr)
	items := append([]domain.RawItem(nil), a.items[symbol]...)
	delay := a.delay
	a.mu.Unlock()

	if werr := wait(ctx, provider.OpSentiment, delay); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Provider = a.name
	}
	return items, nil
}

// FetchOHLC returns copies of the configured candles for symbol within rng.
func (a *Adapter) FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) ([]domain.Candle, error) {
	a.mu.Lock()
	a.ohlcCalls++
	err := next(&a.ohlcErrs, a.ohlcErr)
	all := a.candles[symbol]
	delay := a.delay
	a.mu.Unlock()

	if werr := wait(ctx, provider.OpOHLC, delay); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}

	var result []domain.Candle
	for _, c := range all {
		if rng.Contains(c.Date) {
			c.Source = a.name
			result = append(result, c)
		}
	}
	return result, nil
}

func next(queue *[]error, fallback error) error {
	if len(*queue) == 0 {
		return fallback
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func wait(ctx context.Context, op string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &provider.TimeoutError{Op: op}
		}
		return ctx.Err()
	}
}

var _ provider.Adapter = (*Adapter)(nil)

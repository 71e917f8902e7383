package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 8 << 20
)

// HTTPAdapter implements Adapter over a provider's REST API.
//
// Endpoints:
//
//	GET {base}/sentiment?symbol=S&from=RFC3339  -> {"items": [...]}
//	GET {base}/ohlc?symbol=S&from=DATE&to=DATE   -> {"candles": [...]}
type HTTPAdapter struct {
	name    domain.Provider
	baseURL string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	apiKey  string
	maxBody int64
	now     func() time.Time
	logger  logrus.FieldLogger
}

// Option configures HTTPAdapter.
type Option func(*HTTPAdapter)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *HTTPAdapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *HTTPAdapter) {
		a.client = client
	}
}

// WithRateLimiter limits outgoing requests to rps with the given burst.
// A non-positive rps disables limiting.
func WithRateLimiter(rps float64, burst int) Option {
	return func(a *HTTPAdapter) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAPIKey sets the API key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(a *HTTPAdapter) {
		a.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *HTTPAdapter) {
		a.logger = l
	}
}

// WithClock injects the time source used for query windows and fetch stamps.
func WithClock(now func() time.Time) Option {
	return func(a *HTTPAdapter) {
		a.now = now
	}
}

// NewHTTPAdapter creates a new provider adapter.
func NewHTTPAdapter(name domain.Provider, baseURL string, opts ...Option) *HTTPAdapter {
	a := &HTTPAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logrus.StandardLogger()
	}
	a.logger = a.logger.WithField("provider", string(name))
	return a
}

// Name returns the provider identity.
func (a *HTTPAdapter) Name() domain.Provider {
	return a.name
}

// FetchSentiment fetches sentiment items for symbol published within window.
func (a *HTTPAdapter) FetchSentiment(ctx context.Context, symbol string, window time.Duration) ([]domain.RawItem, error) {
	now := a.now()
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", now.Add(-window).UTC().Format(time.RFC3339))

	var payload sentimentPayload
	if err := a.get(ctx, OpSentiment, "/sentiment", q, &payload); err != nil {
		return nil, err
	}

	fetchedAt := now.UnixMilli()
	items := make([]domain.RawItem, 0, len(payload.Items))
	for i, w := range payload.Items {
		item, err := w.toRawItem(a.name, symbol, fetchedAt)
		if err != nil {
			return nil, a.malformed(OpSentiment, symbol, fmt.Sprintf("item %d: %v", i, err))
		}
		items = append(items, item)
	}
	return items, nil
}

// FetchOHLC fetches daily candles for symbol within rng.
func (a *HTTPAdapter) FetchOHLC(ctx context.Context, symbol string, rng domain.TimeRange) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", time.UnixMilli(rng.From).UTC().Format(dateLayout))
	q.Set("to", time.UnixMilli(rng.To).UTC().Format(dateLayout))

	var payload ohlcPayload
	if err := a.get(ctx, OpOHLC, "/ohlc", q, &payload); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(payload.Candles))
	for i, w := range payload.Candles {
		c, err := w.toCandle(a.name, symbol)
		if err != nil {
			return nil, a.malformed(OpOHLC, symbol, fmt.Sprintf("candle %d: %v", i, err))
		}
		if !rng.Contains(c.Date) {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// get performs a single GET with the per-call timeout and decodes the
// key-normalized JSON body into out.
func (a *HTTPAdapter) get(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	err := a.do(ctx, op, path, q, out)
	observability.RecordProviderCall(string(a.name), op, time.Since(start).Seconds(), ErrorKind(err))
	return err
}

func (a *HTTPAdapter) do(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return classifyTransportError(ctx, op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &RateLimitedError{Op: op, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), a.now())}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &ServerError{Op: op, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody+1))
	if err != nil {
		return classifyTransportError(ctx, op, err)
	}
	if int64(len(body)) > a.maxBody {
		return a.malformed(op, q.Get("symbol"), "body exceeds size limit")
	}

	normalized, err := NormalizeKeys(body)
	if err != nil {
		return a.malformed(op, q.Get("symbol"), err.Error())
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return a.malformed(op, q.Get("symbol"), err.Error())
	}
	return nil
}

func (a *HTTPAdapter) malformed(op, symbol, reason string) error {
	a.logger.WithFields(logrus.Fields{
		"op":         op,
		"symbol":     symbol,
		"error_kind": "malformed_response",
	}).Warn(reason)
	return &MalformedResponseError{Op: op, Reason: reason}
}

// classifyTransportError maps a transport failure to a provider error.
// Cancellation by the caller is returned as-is so it is not mistaken for
// provider ill health.
func classifyTransportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op}
	}
	return &ConnectionError{Op: op, Err: err}
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

var _ Adapter = (*HTTPAdapter)(nil)

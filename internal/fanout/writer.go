// Package fanout folds canonical events into time buckets at every
// resolution.
package fanout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/storage"
)

// Outcome of a single resolution write.
type Outcome struct {
	Resolution  domain.Resolution
	BucketStart int64
	Applied     bool // sample folded into the bucket
	Duplicate   bool // event already counted in this bucket
	Err         error
}

// Result holds one Outcome per attempted resolution, in the order requested.
type Result struct {
	EventID  string
	Outcomes []Outcome
}

// Failed returns the resolutions that did not complete.
func (r Result) Failed() []domain.Resolution {
	var out []domain.Resolution
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Resolution)
		}
	}
	return out
}

// Writer applies canonical events to a TimeBucketStore.
type Writer struct {
	store       storage.TimeBucketStore
	resolutions []domain.Resolution
	logger      logrus.FieldLogger
}

// Option configures a Writer.
type Option func(*Writer)

// WithResolutions overrides the default resolution set.
func WithResolutions(rs []domain.Resolution) Option {
	return func(w *Writer) {
		w.resolutions = append([]domain.Resolution(nil), rs...)
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Writer) {
		w.logger = l
	}
}

// NewWriter creates a fan-out writer over store.
func NewWriter(store storage.TimeBucketStore, opts ...Option) *Writer {
	w := &Writer{
		store:       store,
		resolutions: domain.Resolutions,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Resolutions returns the configured resolution set.
func (w *Writer) Resolutions() []domain.Resolution {
	return append([]domain.Resolution(nil), w.resolutions...)
}

// Apply writes event into every configured resolution.
func (w *Writer) Apply(ctx context.Context, event *domain.CanonicalEvent) (Result, error) {
	return w.ApplyResolutions(ctx, event, w.resolutions)
}

// ApplyResolutions writes event into the given resolutions only.
// Each resolution is written independently; a failure in one does not
// prevent the others. Returns *WriteError listing the failed resolutions.
func (w *Writer) ApplyResolutions(ctx context.Context, event *domain.CanonicalEvent, rs []domain.Resolution) (Result, error) {
	if event == nil || event.EventID == "" || event.Symbol == "" {
		return Result{}, ErrInvalidEvent
	}

	res := Result{EventID: event.EventID, Outcomes: make([]Outcome, len(rs))}

	// Each goroutine owns one slot; errors are carried in the outcome so the
	// group never cancels siblings.
	var g errgroup.Group
	for i, r := range rs {
		i, r := i, r
		g.Go(func() error {
			res.Outcomes[i] = w.applyOne(ctx, event, r)
			return nil
		})
	}
	_ = g.Wait()

	var werr *WriteError
	for _, o := range res.Outcomes {
		if o.Err == nil {
			continue
		}
		if werr == nil {
			werr = &WriteError{EventID: event.EventID}
		}
		werr.Failed = append(werr.Failed, o.Resolution)
		werr.Errs = append(werr.Errs, o.Err)
	}
	if werr != nil {
		return res, werr
	}
	return res, nil
}

func (w *Writer) applyOne(ctx context.Context, event *domain.CanonicalEvent, r domain.Resolution) Outcome {
	out := Outcome{Resolution: r}
	if !r.IsValid() {
		out.Err = fmt.Errorf("resolution %q: %w", r, ErrInvalidEvent)
		observability.RecordBucketWrite(string(r), "error")
		return out
	}

	key := domain.BucketKey{
		Symbol:      event.Symbol,
		Resolution:  r,
		BucketStart: r.BucketStart(event.Timestamp),
	}
	out.BucketStart = key.BucketStart

	applied, err := w.store.AddSample(ctx, key, event.EventID, event.SentimentScore)
	switch {
	case err != nil:
		out.Err = fmt.Errorf("add sample %s/%s@%d: %w", event.Symbol, r, key.BucketStart, err)
		observability.RecordBucketWrite(string(r), "error")
		w.logger.WithFields(logrus.Fields{
			"symbol":     event.Symbol,
			"resolution": r,
			"event_id":   event.EventID,
		}).WithError(err).Warn("bucket write failed")
	case applied:
		out.Applied = true
		observability.RecordBucketWrite(string(r), "applied")
	default:
		out.Duplicate = true
		observability.RecordBucketWrite(string(r), "duplicate")
	}
	return out
}

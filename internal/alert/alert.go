// Package alert hands canonical events to the Alert Evaluator.
// Delivery is fire-and-forget: sinks never block or fail ingestion.
package alert

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/domain"
)

// Sink accepts events for alert evaluation.
type Sink interface {
	// Offer enqueues event without blocking. Returns false if it was dropped.
	Offer(event *domain.CanonicalEvent) bool
	Close() error
}

// Event is the payload delivered to the Alert Evaluator.
type Event struct {
	EventID     string   `json:"eventId"`
	Symbol      string   `json:"symbol"`
	Sentiment   float64  `json:"sentiment"`
	Confidence  float64  `json:"confidence"`
	Sources     []string `json:"sources"`
	Timestamp   int64    `json:"timestamp"`
	ContentHash string   `json:"contentHash"`
	Title       string   `json:"title,omitempty"`
}

// NewEvent converts a canonical event.
func NewEvent(e *domain.CanonicalEvent) Event {
	sources := make([]string, len(e.Sources))
	for i, s := range e.Sources {
		sources[i] = string(s)
	}
	return Event{
		EventID:     e.EventID,
		Symbol:      e.Symbol,
		Sentiment:   e.SentimentScore,
		Confidence:  e.Confidence,
		Sources:     sources,
		Timestamp:   e.Timestamp,
		ContentHash: e.ContentHash,
		Title:       e.Title,
	}
}

// Marshal encodes the payload.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// LogSink logs every offered event.
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

// Offer logs the event and always accepts it.
func (s *LogSink) Offer(e *domain.CanonicalEvent) bool {
	s.logger.WithFields(logrus.Fields{
		"symbol":     e.Symbol,
		"event_id":   e.EventID,
		"sentiment":  e.SentimentScore,
		"confidence": e.Confidence,
		"sources":    e.Sources,
	}).Info("alert candidate")
	return true
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}

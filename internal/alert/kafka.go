package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/domain"
	"sentiment-pipeline/internal/observability"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates an async writer keyed by symbol so events of one
// symbol stay on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Compression:  kafka.Zstd,
	}
}

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	// QueueSize bounds events waiting for the writer; overflow is dropped.
	QueueSize int
	// WriteTimeout bounds a single WriteMessages call.
	WriteTimeout time.Duration
}

// DefaultKafkaConfig returns default sink settings.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

// KafkaSink publishes events to Kafka from a bounded queue.
type KafkaSink struct {
	writer MessageWriter
	cfg    KafkaConfig
	logger logrus.FieldLogger

	queue chan *domain.CanonicalEvent
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
}

// NewKafkaSink starts a sink draining into writer.
func NewKafkaSink(writer MessageWriter, cfg KafkaConfig, logger logrus.FieldLogger) *KafkaSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultKafkaConfig().QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultKafkaConfig().WriteTimeout
	}
	s := &KafkaSink{
		writer: writer,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *domain.CanonicalEvent, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Offer enqueues e, dropping it when the queue is full or the sink closed.
func (s *KafkaSink) Offer(e *domain.CanonicalEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.done {
		observability.RecordAlertDropped("closed")
		return false
	}
	select {
	case s.queue <- e:
		return true
	default:
		observability.RecordAlertDropped("queue_full")
		s.logger.WithFields(logrus.Fields{
			"symbol":   e.Symbol,
			"event_id": e.EventID,
		}).Warn("alert queue full, dropping event")
		return false
	}
}

func (s *KafkaSink) run() {
	defer s.wg.Done()
	for e := range s.queue {
		s.write(e)
	}
}

func (s *KafkaSink) write(e *domain.CanonicalEvent) {
	data, err := NewEvent(e).Marshal()
	if err != nil {
		observability.RecordAlertDropped("encode")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Symbol),
		Value: data,
		Time:  time.UnixMilli(e.Timestamp),
	})
	if err != nil {
		reason := "write_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		observability.RecordAlertDropped(reason)
		s.logger.WithFields(logrus.Fields{
			"symbol":   e.Symbol,
			"event_id": e.EventID,
		}).WithError(err).Warn("alert write failed")
	}
}

// Close stops accepting events, flushes the queue and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.writer.Close()
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*LogSink)(nil)
)

package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/storage"
)

// LogSink writes each event as one structured log line
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a sink on logger
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	fields := []logging.Field{
		{Key: "audit_id", Value: event.ID},
		{Key: "correlation_id", Value: event.CorrelationID},
		{Key: "route", Value: event.Route},
		{Key: "outcome", Value: string(event.Outcome)},
		{Key: "actor", Value: event.Actor},
		logging.Strings("redactions", event.Redactions),
	}
	if event.HTTP != nil {
		fields = append(fields,
			logging.Field{Key: "method", Value: event.HTTP.Method},
			logging.Field{Key: "status", Value: event.HTTP.Status},
			logging.Field{Key: "latency_ms", Value: event.HTTP.LatencyMs},
		)
	}
	if event.ErrorCode != "" {
		fields = append(fields, logging.Field{Key: "error_code", Value: event.ErrorCode})
	}
	if len(event.Details) > 0 {
		fields = append(fields, logging.Field{Key: "details", Value: event.Details})
	}
	s.logger.Info("audit event", fields...)
}

func (s *LogSink) Close() error { return nil }

// MultiSink fans events out to several sinks
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

var errBufferFull = stderrors.New("audit buffer full")

// StoreSinkConfig configures the batching store sink
type StoreSinkConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// EnqueueTimeout is how long Emit waits for buffer space before the
	// event is dropped
	EnqueueTimeout time.Duration
}

// StoreSink persists events to the append-only audit table from a
// background worker. When the buffer is full Emit waits up to
// EnqueueTimeout, then drops the event, counts it and logs an error.
type StoreSink struct {
	ch      chan Event
	store   storage.Storage
	logger  logging.Logger
	cfg     StoreSinkConfig
	dropped atomic.Uint64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
}

// NewStoreSink creates and starts a store sink
func NewStoreSink(store storage.Storage, cfg StoreSinkConfig, logger logging.Logger) *StoreSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &StoreSink{
		ch:     make(chan Event, cfg.BufferSize),
		store:  store,
		logger: logger,
		cfg:    cfg,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.worker(ctx)
	return s
}

func (s *StoreSink) Emit(_ context.Context, event Event) {
	select {
	case s.ch <- event:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case s.ch <- event:
	case <-timer.C:
		total := s.dropped.Add(1)
		s.logger.Error("audit buffer full, event not persisted", errBufferFull,
			logging.Field{Key: "audit_id", Value: event.ID},
			logging.Field{Key: "correlation_id", Value: event.CorrelationID},
			logging.Field{Key: "route", Value: event.Route},
			logging.Field{Key: "dropped_total", Value: total},
		)
	}
}

// Dropped reports how many events were never handed to the worker
func (s *StoreSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close flushes buffered events and stops the worker
func (s *StoreSink) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.flush(s.drainAll())
	})
	return nil
}

func (s *StoreSink) worker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Event
	for {
		select {
		case <-ctx.Done():
			batch = append(batch, s.drainAll()...)
			s.flush(batch)
			return

		case e := <-s.ch:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = nil
			}
		}
	}
}

func (s *StoreSink) flush(events []Event) {
	if len(events) == 0 {
		return
	}

	records := make([]*storage.AuditRecord, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			s.logger.Error("failed to encode audit event", err, logging.Field{Key: "audit_id", Value: e.ID})
			continue
		}
		records = append(records, &storage.AuditRecord{
			ID:            e.ID,
			CorrelationID: e.CorrelationID,
			OccurredAt:    e.Time,
			Route:         e.Route,
			Outcome:       string(e.Outcome),
			Payload:       string(payload),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.InsertAuditEvents(ctx, records); err != nil {
		s.logger.Error("audit flush failed", err, logging.Field{Key: "count", Value: len(records)})
	}
}

func (s *StoreSink) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-s.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

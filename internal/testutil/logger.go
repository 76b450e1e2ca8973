package testutil

import (
	"context"
	"sync"

	"federation-gateway/internal/common/logging"
)

// LogEntry is one captured log call
type LogEntry struct {
	Level   string
	Message string
	Err     error
	Fields  map[string]interface{}
}

// RecordingLogger implements logging.Logger and keeps every entry in memory
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  []logging.Field
}

var _ logging.Logger = (*RecordingLogger)(nil)

// NewRecordingLogger creates an empty recording logger
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

func (l *RecordingLogger) record(level, msg string, err error, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := make(map[string]interface{}, len(l.fields)+len(fields))
	for _, f := range l.fields {
		all[f.Key] = f.Value
	}
	for _, f := range fields {
		all[f.Key] = f.Value
	}
	*l.entries = append(*l.entries, LogEntry{Level: level, Message: msg, Err: err, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) {
	l.record("debug", msg, nil, fields)
}

func (l *RecordingLogger) Info(msg string, fields ...logging.Field) {
	l.record("info", msg, nil, fields)
}

func (l *RecordingLogger) Warn(msg string, fields ...logging.Field) {
	l.record("warn", msg, nil, fields)
}

func (l *RecordingLogger) Error(msg string, err error, fields ...logging.Field) {
	l.record("error", msg, err, fields)
}

// WithFields returns a logger sharing the same entry buffer
func (l *RecordingLogger) WithFields(fields ...logging.Field) logging.Logger {
	merged := append(append([]logging.Field{}, l.fields...), fields...)
	return &RecordingLogger{mu: l.mu, entries: l.entries, fields: merged}
}

func (l *RecordingLogger) WithContext(ctx context.Context) logging.Logger {
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		return l.WithFields(logging.Field{Key: "correlation_id", Value: id})
	}
	return l
}

// Entries returns a snapshot of captured entries
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), *l.entries...)
}

// Messages returns the messages logged at level
func (l *RecordingLogger) Messages(level string) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

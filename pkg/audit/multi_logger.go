package audit

import (
	"context"
)

// MultiLogger fans each entry out to several sinks in order
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a sink that writes to every sink given
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Append writes entry to every sink, continuing past failures, and returns
// the first error
func (m *MultiLogger) Append(ctx context.Context, entry *AccessLogEntry) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink and returns the first error
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package audit

import (
	"context"

	"github.com/platinummonkey/rolegate/pkg/contextkeys"
)

// Sink receives access log entries
type Sink interface {
	// Append records an entry. The sink may set entry.ID.
	Append(ctx context.Context, entry *AccessLogEntry) error

	// Close releases any resources held by the sink
	Close() error
}

// noOpSink discards every entry
type noOpSink struct{}

// NewNoOpSink returns a sink that discards entries
func NewNoOpSink() Sink {
	return &noOpSink{}
}

func (n *noOpSink) Append(ctx context.Context, entry *AccessLogEntry) error {
	return nil
}

func (n *noOpSink) Close() error {
	return nil
}

// WithRequestID attaches a caller supplied request id to ctx. Entries built
// for requests carrying one reuse it instead of generating a new id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return contextkeys.WithRequestID(ctx, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v := contextkeys.GetRequestID(ctx)
	return v, v != ""
}

package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	entries   []*AccessLogEntry
	appendErr error
	closeErr  error
	closed    bool
}

func (m *memorySink) Append(ctx context.Context, entry *AccessLogEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return m.closeErr
}

func TestMultiLogger_FanOut(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	multi := NewMultiLogger(a, b)

	require.NoError(t, multi.Append(context.Background(), NewEntry(1, "docs", "read", ResultGranted)))
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)
	assert.Same(t, a.entries[0], b.entries[0])
}

func TestMultiLogger_ContinuesPastFailure(t *testing.T) {
	first := errors.New("disk full")
	a := &memorySink{appendErr: first, closeErr: first}
	b := &memorySink{appendErr: errors.New("db down")}
	c := &memorySink{}
	multi := NewMultiLogger(a, b, c)

	err := multi.Append(context.Background(), NewEntry(1, "docs", "read", ResultDenied))
	assert.ErrorIs(t, err, first)
	assert.Len(t, c.entries, 1)

	assert.ErrorIs(t, multi.Close(), first)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.True(t, c.closed)
}

func TestMultiLogger_Empty(t *testing.T) {
	multi := NewMultiLogger()
	assert.NoError(t, multi.Append(context.Background(), NewEntry(1, "docs", "read", ResultGranted)))
	assert.NoError(t, multi.Close())
}

func TestNoOpSink(t *testing.T) {
	sink := NewNoOpSink()
	assert.NoError(t, sink.Append(context.Background(), NewEntry(1, "a", "b", ResultGranted)))
	assert.NoError(t, sink.Close())
}

func TestRequestIDContext(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithRequestID(context.Background(), "abc")
	id, ok := RequestIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestResultValid(t *testing.T) {
	assert.True(t, ResultGranted.Valid())
	assert.True(t, ResultDenied.Valid())
	assert.True(t, ResultConditional.Valid())
	assert.False(t, Result("MAYBE").Valid())
}

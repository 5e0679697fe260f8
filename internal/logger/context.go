package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context threaded through a
// single map/index/append call chain.
type LogContext struct {
	TraceID    string // OpenTelemetry trace ID
	SpanID     string // OpenTelemetry span ID
	StorageDir string // storage root the operation is scoped to
	MapUID     uint32 // message body being operated on, if any
	FileID     uint32 // physical multi-file being operated on, if any
	BatchID    string // in-flight append batch, if any
	StartTime  time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to a storage directory.
func NewLogContext(storageDir string) *LogContext {
	return &LogContext{
		StorageDir: storageDir,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:    lc.TraceID,
		SpanID:     lc.SpanID,
		StorageDir: lc.StorageDir,
		MapUID:     lc.MapUID,
		FileID:     lc.FileID,
		BatchID:    lc.BatchID,
		StartTime:  lc.StartTime,
	}
}

// WithMapUID returns a copy with the map UID set
func (lc *LogContext) WithMapUID(uid uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MapUID = uid
	}
	return clone
}

// WithFileID returns a copy with the file ID set
func (lc *LogContext) WithFileID(id uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.FileID = id
	}
	return clone
}

// WithBatch returns a copy with the batch ID set
func (lc *LogContext) WithBatch(batchID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BatchID = batchID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}

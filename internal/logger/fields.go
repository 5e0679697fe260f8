package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the map, index, and
// data-file packages. Use these keys consistently so log lines can be
// aggregated and queried by map_uid/file_id/storage_dir.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeyStorageDir = "storage_dir"
	KeyMapUID     = "map_uid"
	KeyFileID     = "file_id"
	KeySeq        = "seq"
	KeyBatchID    = "batch_id"

	KeyOffset = "offset"
	KeySize   = "size"
	KeyCount  = "count"

	KeyOperation  = "operation"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	KeyBucket = "bucket"
	KeyKey    = "key"
	KeyRegion = "region"

	KeyDurationMs = "duration_ms"

	KeyError = "error"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

// StorageDir identifies the storage root a log line pertains to.
func StorageDir(dir string) slog.Attr { return slog.String(KeyStorageDir, dir) }

// MapUID identifies the logical message body a log line pertains to.
func MapUID(uid uint32) slog.Attr { return slog.Uint64(KeyMapUID, uint64(uid)) }

// FileID identifies the physical multi-file a log line pertains to.
func FileID(id uint32) slog.Attr { return slog.Uint64(KeyFileID, uint64(id)) }

// Seq identifies the index sequence number backing a map entry.
func Seq(seq uint32) slog.Attr { return slog.Uint64(KeySeq, uint64(seq)) }

// BatchID identifies an in-flight append batch.
func BatchID(id string) slog.Attr { return slog.String(KeyBatchID, id) }

func Offset(off uint32) slog.Attr { return slog.Uint64(KeyOffset, uint64(off)) }
func Size(s uint32) slog.Attr     { return slog.Uint64(KeySize, uint64(s)) }
func Count(c int) slog.Attr       { return slog.Int(KeyCount, c) }

func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
func ErrorCode(code int) slog.Attr  { return slog.Int(KeyErrorCode, code) }
func Attempt(n int) slog.Attr       { return slog.Int(KeyAttempt, n) }
func MaxRetries(n int) slog.Attr    { return slog.Int(KeyMaxRetries, n) }

func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }
func Key(k string) slog.Attr       { return slog.String(KeyKey, k) }
func Region(r string) slog.Attr    { return slog.String(KeyRegion, r) }

// DurationMs records an operation's wall-clock duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err records an error using the standard "error" key. A nil error
// produces an empty attr that slog drops from the output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

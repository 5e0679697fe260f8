package dboxmap

import "fmt"

// ErrorCode classifies a StoreError by the kind of failure observed in the
// map index or one of its collaborators.
type ErrorCode int

const (
	// ErrUnknown is the zero value; never returned deliberately.
	ErrUnknown ErrorCode = iota
	// ErrCorruption marks a broken structural invariant on disk: a missing
	// extension payload, file_id==0 where a live record is expected, a
	// malformed header, or a lookup sequence lost while a transaction held
	// the view open.
	ErrCorruption
	// ErrIO marks a failed mkdir, stat, unlink, ftruncate, flush, or sync.
	ErrIO
	// ErrPolicy marks a refused operation that is otherwise well-formed,
	// e.g. a refcount update that would cross the ceiling.
	ErrPolicy
	// ErrNotFound marks a missing map_uid or file_id after a refresh.
	ErrNotFound
	// ErrRetry marks a transient condition a caller may retry, e.g. a
	// contended advisory lock on a data file.
	ErrRetry
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCorruption:
		return "corruption"
	case ErrIO:
		return "io"
	case ErrPolicy:
		return "policy"
	case ErrNotFound:
		return "not_found"
	case ErrRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// StoreError is the domain error returned by most fallible map operations;
// a few argument and unreachable-uid checks (AppendMove,
// AppendBeginMailbox, AppendContext.Commit) return plain errors instead.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
	Detail  string
}

func (e *StoreError) Error() string {
	s := e.Message
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	return s
}

func NewCorruptionError(path, detail string) *StoreError {
	return &StoreError{Code: ErrCorruption, Message: "map index corrupted", Path: path, Detail: detail}
}

func NewIOError(path string, cause error) *StoreError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &StoreError{Code: ErrIO, Message: "map index I/O error", Path: path, Detail: detail}
}

func NewPolicyError(message string) *StoreError {
	return &StoreError{Code: ErrPolicy, Message: message}
}

func NewNotFoundError(detail string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "map entry not found", Detail: detail}
}

func NewRetryError(detail string) *StoreError {
	return &StoreError{Code: ErrRetry, Message: "operation contended, retry later", Detail: detail}
}

// ErrRefcountCeiling is returned by UpdateRefcounts when an entry's refcount
// would cross the conservative 32768 ceiling.
var ErrRefcountCeiling = NewPolicyError("message copied too many times")

// ErrTooOld describes a candidate file whose create_time predates the
// rotate_days cutoff. The append search does not return it: tryAppend
// reports that case through its stopScanning result instead.
var ErrTooOld = fmt.Errorf("dboxmap: candidate file too old")

// Package dboxindex defines the minimal transactional index collaborator
// the shared-message map is built on: a persistent, monotonically-keyed
// table offering stable read snapshots ("views"), a write-serialization
// scope ("sync") that gives exclusive file_id/map_uid allocation across
// processes, and ordinary read/write transactions for refcount mutation.
//
// dboxmap never talks to a storage backend directly; it only holds an
// Index built by a concrete implementation such as dboxindex/badger.
package dboxindex

import "errors"

// ErrClosed is returned by any method called on an Index, View, or
// Transaction after it has been closed/committed/rolled back.
var ErrClosed = errors.New("dboxindex: use of closed handle")

// ErrMalformedHeader is returned when a header row exists but its size
// does not match the expected encoding; the map layer reports this as
// corruption.
var ErrMalformedHeader = errors.New("dboxindex: malformed header row")

// Record is the persisted row of the "map" extension: the physical
// location of one message body.
type Record struct {
	FileID uint32
	Offset uint32
	Size   uint32
}

// Ref is the persisted row of the "ref" extension: a mailbox reference
// count. Absent rows are treated as refcount 0.
type Ref struct {
	Refcount uint16
}

// Entry is a fully materialized map row as returned by a View scan.
type Entry struct {
	MapUID uint32
	Record Record
	Ref    Ref
}

// View is a read-only, monotonically-advancing snapshot of the index,
// stable for its entire lifetime regardless of concurrent writers.
type View interface {
	// Close releases the snapshot. Safe to call multiple times.
	Close()

	// Len returns the number of live (non-expunged) sequences in this
	// view.
	Len() int

	// SeqOfUID translates a map_uid to its 1-based sequence number in
	// this view.
	SeqOfUID(uid uint32) (seq uint32, found bool)

	// UIDOfSeq is the inverse of SeqOfUID.
	UIDOfSeq(seq uint32) (uid uint32, found bool)

	// EntryAt materializes the full row at seq. ok is false if seq is out
	// of range or the sequence has been expunged; it is not an error by
	// itself. recordOK/refOK distinguish a present-but-corrupt payload
	// (present=false, err=nil => extension has no payload) from "missing
	// entirely", which callers treat as corruption per the map's rules.
	EntryAt(seq uint32) (entry Entry, recordOK bool, refOK bool, ok bool)

	// SeqRange returns the sequence numbers of the uids in [loUID, hiUID],
	// used by the backward append scan to reposition after a refresh.
	SeqRange(loUID, hiUID uint32) (loSeq, hiSeq uint32, ok bool)

	HeaderHighestFileID() (uint32, error)
	HeaderNextUID() (uint32, error)
	HeaderUIDValidity() (uint32, error)
}

// Transaction is a write scope over the index. Mutations are invisible to
// other Views/Transactions until Commit; Rollback discards them.
//
// A Transaction's own View is a live snapshot pinned to the values written
// so far in the same transaction, which is what lets UpdateRefcounts look
// up a sequence without a disallowed mid-transaction refresh.
type Transaction interface {
	View() View

	// Append stages a brand-new row with no map_uid yet; it becomes
	// addressable only after AssignUIDs. The returned token identifies
	// this row within the transaction for UpdateStaged calls made before
	// AssignUIDs runs.
	Append(rec Record, ref Ref) (token int, err error)

	// UpdateStaged rewrites a still-unassigned row by its Append token.
	UpdateStaged(token int, rec Record) error

	// UpdateRecord rewrites an existing, already-assigned row's map
	// extension payload in place (used by append_move).
	UpdateRecord(uid uint32, rec Record) error

	// AtomicIncRef applies diff to an existing (or absent-as-zero)
	// refcount row and returns the value after the update.
	AtomicIncRef(uid uint32, diff int32) (newValue int32, err error)

	// Expunge removes a row entirely.
	Expunge(uid uint32) error

	// AssignUIDs assigns contiguous map_uids starting at first to every
	// row staged via Append, in staging order, and returns the uid one
	// past the last assigned (so the assigned range is [first, next)).
	AssignUIDs(first uint32) (next uint32, err error)

	SetHeaderHighestFileID(v uint32) error
	SetHeaderUIDValidity(v uint32) error
	SetHeaderNextUID(v uint32) error

	Commit() error
	Rollback() error
}

// Sync is the scope during which the transaction log is exclusively
// locked, serializing file_id and map_uid allocation across processes.
// Within a single Go process it is realized as a mutex; across processes
// a concrete implementation additionally takes a filesystem lock.
type Sync interface {
	// Offsets reports a logical begin/end position pair; a concrete
	// implementation compares these across the sync scope to detect a
	// crash mid-commit (see Inconsistent).
	Offsets() (begin, end uint64)

	// Inconsistent reports whether a begin/end offset mismatch was
	// observed, signalling a prior crash mid-commit. When true the caller
	// must skip draining and flag storage for a rebuild.
	Inconsistent() bool

	// ForceInconsistent is a test-only hook: no in-process fault can be
	// injected to reproduce a real disk crash, so tests call this to
	// exercise the sync_rebuild path deterministically.
	ForceInconsistent()

	Commit() error
	Rollback() error
}

// Index is the transactional index engine collaborator. A concrete
// implementation owns exactly one on-disk index file per storage root.
type Index interface {
	// Open opens the index, optionally creating it (and parent
	// directories) if missing. Open is idempotent.
	Open(createMissing bool) error
	Close() error
	Path() string

	// NewView opens a fresh read snapshot reflecting everything committed
	// so far.
	NewView() (View, error)

	// BeginTransaction starts a write scope. external marks a transaction
	// whose ordering the caller has already serialized by other means
	// (mirrors the index engine's EXTERNAL transaction flag).
	BeginTransaction(external bool) (Transaction, error)

	// BeginSync opens the write-serialization scope described by Sync.
	BeginSync() (Sync, error)

	// ResetError clears any sticky error state the index may have
	// recorded, mirroring the original engine's reset_error after a
	// caller has handled a reported failure.
	ResetError()
}

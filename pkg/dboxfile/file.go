// Package dboxfile defines the dbox data-file collaborator the append
// context drives: an append-only byte stream that can be opened or
// created, advisory-locked against concurrent appenders, streamed into,
// and given a file_id once a batch commits.
package dboxfile

import "io"

// Variant distinguishes a multi-file (many messages, shared across
// mailboxes, identified by file_id) from a single-mailbox file (one
// message, identified by a mailbox UID instead).
type Variant int

const (
	Multi Variant = iota
	Single
)

// LockResult is the outcome of a non-blocking advisory lock attempt that
// did not fail; the third outcome, a failed attempt, is reported through
// TryLock's error return.
type LockResult int

const (
	LockOK LockResult = iota
	LockContended
)

// Stream is the append cursor obtained from File.AppendStream. Offset
// always reports the stream's current absolute position, including bytes
// written by earlier writers before this handle was opened.
type Stream interface {
	io.Writer
	Offset() uint32
}

// File is one physical dbox data file: either a multi-file addressed by
// file_id, or a single-mailbox file addressed by a mailbox UID.
type File interface {
	Variant() Variant

	// FileID is 0 for a multi-file that has not yet been assigned one by
	// AssignID, and always 0 for a Single file.
	FileID() uint32

	// MailboxUID is the mailbox UID a Single file was stamped with by
	// AssignID; always 0 for a Multi file.
	MailboxUID() uint32

	Path() string

	// CreateTime is the file's age timestamp (epoch seconds) that the
	// append search compares against the rotate_days cutoff. How it is
	// obtained is up to the implementation.
	CreateTime() int64

	// OpenOrCreate opens the file, creating it if absent. deleted is true
	// if the file existed moments ago but was removed by a concurrent
	// cleanup before this call completed.
	OpenOrCreate() (deleted bool, err error)

	// Deleted re-stats the path and reports whether it has since been
	// unlinked by a concurrent cleanup (e.g. between OpenOrCreate and a
	// successful TryLock), the same lost-race condition OpenOrCreate
	// already guards against at open time.
	Deleted() (bool, error)

	TryLock() (LockResult, error)
	Unlock() error

	// AppendStream returns a stream positioned for new data, passing
	// along the last known (offset, size) pair the caller has for this
	// file so the stream can validate or recover the true tail position.
	AppendStream(lastOffset, lastSize uint32) (Stream, error)

	// NextAppendOffset is the stream position a freshly-opened appender
	// would start writing at, i.e. the current end of file.
	NextAppendOffset() (uint32, error)

	FlushAppend() error

	// AssignID stamps a Multi file with its file_id once one has been
	// allocated under a sync scope, or a Single file with its owning
	// mailbox UID once the batch's uid range has been assigned.
	AssignID(id uint32) error

	FirstAppendOffset() uint32
	SetFirstAppendOffset(uint32)

	// HeaderSize is the fixed-size file header every dbox data file
	// begins with; rollback never truncates below this offset.
	HeaderSize() uint32

	Truncate(offset uint32) error
	Unlink() error

	Close() error
}

// FileManager creates and locates File handles for one storage root.
type FileManager interface {
	// OpenMulti opens an existing multi-file by file_id.
	OpenMulti(fileID uint32) (File, error)
	// CreateMulti creates a brand-new multi-file with file_id unassigned
	// (0) until AssignID is called.
	CreateMulti() (File, error)
	// OpenSingle opens or creates the single-mailbox file for mailboxID.
	OpenSingle(mailboxID string) (File, error)
}

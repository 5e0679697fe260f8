package dboxmap

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cobaltmail/dboxmap/internal/logger"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
	"github.com/cobaltmail/dboxmap/pkg/dboxstorage"
	"github.com/cobaltmail/dboxmap/pkg/metrics"
)

// appendTuple is a pending (file, offset, size) record; size stays
// sizeUnset until FinishMultiMail stamps the true length.
type appendTuple struct {
	file   dboxfile.File
	offset uint32
	size   uint32
}

// AppendContext is scoped to one append batch: it finds or creates
// appendable data files, streams message bytes into them, and on commit
// atomically assigns file_ids and map_uids (or rewrites existing entries
// via AppendMove).
type AppendContext struct {
	m         *Map
	storage   *dboxstorage.Storage
	mailboxID string // non-empty selects single-mailbox mode regardless of rotate_size
	batchID   string

	filesInBatch            []dboxfile.File
	appends                 []*appendTuple // one per message written to a Multi file in this batch
	filesNonAppendableCount int

	origNextUID    uint32
	firstNewFileID uint32

	txn  dboxindex.Transaction
	sync dboxindex.Sync

	committed bool
}

// AppendBeginStorage starts a batch that writes into shared multi-files
// (or single-mailbox files when rotate_size==0).
func (m *Map) AppendBeginStorage() (*AppendContext, error) {
	return m.appendBegin("")
}

// AppendBeginMailbox starts a batch scoped to a single mailbox's own
// single-mailbox file, bypassing the multi-file rotation policy.
func (m *Map) AppendBeginMailbox(mailboxID string) (*AppendContext, error) {
	if mailboxID == "" {
		return nil, fmt.Errorf("dboxmap: AppendBeginMailbox requires a mailbox id")
	}
	return m.appendBegin(mailboxID)
}

func (m *Map) appendBegin(mailboxID string) (*AppendContext, error) {
	if err := m.Open(true); err != nil {
		return nil, err
	}
	if err := m.Refresh(); err != nil {
		return nil, err
	}
	batchID := uuid.NewString()
	logger.Debug("append context begin", logger.BatchID(batchID))
	return &AppendContext{m: m, storage: m.storage, mailboxID: mailboxID, batchID: batchID}, nil
}

// AppendNext finds or creates an appendable file for a message of
// mailSize bytes and returns its handle and a stream positioned to
// receive the message's bytes. For multi-files it records a pending
// Append tuple; the caller must call FinishMultiMail after writing the
// message body.
func (ac *AppendContext) AppendNext(mailSize uint32) (dboxfile.File, dboxfile.Stream, error) {
	if ac.mailboxID == "" {
		f, s, existing, err := ac.findAppendableFile(mailSize)
		if err != nil {
			return nil, nil, err
		}
		if existing {
			ac.appends = append(ac.appends, &appendTuple{file: f, offset: s.Offset(), size: sizeUnset})
			return f, s, nil
		}
	}
	return ac.createNewFile(mailSize)
}

func (ac *AppendContext) createNewFile(mailSize uint32) (dboxfile.File, dboxfile.Stream, error) {
	var f dboxfile.File
	var err error
	isSingle := ac.mailboxID != "" || ac.storage.RotateSize == 0
	if isSingle {
		f, err = ac.m.files.OpenSingle(ac.singleMailboxKey())
	} else {
		f, err = ac.m.files.CreateMulti()
	}
	if err != nil {
		return nil, nil, NewIOError(ac.storage.Dir, err)
	}
	if _, err := f.OpenOrCreate(); err != nil {
		return nil, nil, NewIOError(f.Path(), err)
	}
	if lr, err := f.TryLock(); err != nil || lr != dboxfile.LockOK {
		f.Unlink()
		f.Close()
		return nil, nil, NewIOError(f.Path(), fmt.Errorf("could not lock newly created file"))
	}
	s, err := f.AppendStream(0, 0)
	if err != nil {
		f.Unlock()
		f.Unlink()
		f.Close()
		return nil, nil, NewIOError(f.Path(), err)
	}
	f.SetFirstAppendOffset(s.Offset())
	ac.filesInBatch = append(ac.filesInBatch, f)

	if !isSingle {
		ac.appends = append(ac.appends, &appendTuple{file: f, offset: s.Offset(), size: sizeUnset})
	}
	logger.Debug("append context created new file", logger.BatchID(ac.batchID), logger.Offset(s.Offset()))
	return f, s, nil
}

func (ac *AppendContext) singleMailboxKey() string {
	if ac.mailboxID != "" {
		return ac.mailboxID
	}
	return ac.batchID
}

// FinishMultiMail stamps the trailing pending tuple's size from the
// stream's current offset. Must be called after writing each message's
// bytes, before the next AppendNext.
func (ac *AppendContext) FinishMultiMail(stream dboxfile.Stream) error {
	if len(ac.appends) == 0 {
		return nil
	}
	t := ac.appends[len(ac.appends)-1]
	t.size = stream.Offset() - t.offset
	return nil
}

// assignFileIDs flushes every open multi-file writer and assigns
// file_ids to any that still have none, under a sync scope that reads
// and updates the map header's highest_file_id. When separateTxn is
// true a fresh transaction is opened into ac.txn (consumed by
// AssignMapUIDs); when false the sync alone is opened and the caller's
// own transaction is used for the header update (consumed by
// AppendMove).
func (ac *AppendContext) assignFileIDs(separateTxn bool) error {
	sync, err := ac.m.index.BeginSync()
	if err != nil {
		return NewIOError(ac.m.index.Path(), err)
	}
	ac.sync = sync
	if sync.Inconsistent() {
		ac.m.storage.SetSyncRebuild()
		logger.Warn("sync offset mismatch during append, scheduling rebuild")
	}

	view, err := ac.m.index.NewView()
	if err != nil {
		return NewIOError(ac.m.index.Path(), err)
	}
	highest, err := view.HeaderHighestFileID()
	view.Close()
	if err != nil {
		return NewCorruptionError(ac.m.index.Path(), "highest_file_id header malformed")
	}

	for _, f := range ac.filesInBatch {
		if f.Variant() != dboxfile.Multi {
			continue
		}
		if err := f.FlushAppend(); err != nil {
			return NewIOError(f.Path(), err)
		}
	}

	next := highest
	ac.firstNewFileID = 0
	for _, f := range ac.filesInBatch {
		if f.Variant() != dboxfile.Multi || f.FileID() != 0 {
			continue
		}
		next++
		if ac.firstNewFileID == 0 {
			ac.firstNewFileID = next
		}
		if err := f.AssignID(next); err != nil {
			return NewIOError(f.Path(), err)
		}
	}

	if separateTxn {
		txn, err := ac.m.index.BeginTransaction(false)
		if err != nil {
			return NewIOError(ac.m.index.Path(), err)
		}
		ac.txn = txn
	}

	if next != highest {
		if err := ac.txn.SetHeaderHighestFileID(next); err != nil {
			return NewIOError(ac.m.index.Path(), err)
		}
	}
	return nil
}

// AssignMapUIDs assigns fresh file_ids to every new multi-file in this
// batch, writes a committed map row for every pending Append tuple, and
// assigns each a map_uid from the index's next_uid counter.
func (ac *AppendContext) AssignMapUIDs() (first, last uint32, err error) {
	start := time.Now()
	defer func() { metrics.Get().ObserveAppendLatency("assign_map_uids", time.Since(start).Seconds()) }()

	if len(ac.appends) == 0 {
		return 0, 0, nil
	}
	if err := ac.assignFileIDs(true); err != nil {
		return 0, 0, err
	}

	tokens := make([]int, 0, len(ac.appends))
	for _, t := range ac.appends {
		rec := dboxindex.Record{FileID: t.file.FileID(), Offset: t.offset, Size: t.size}
		token, err := ac.txn.Append(rec, dboxindex.Ref{Refcount: 1})
		if err != nil {
			return 0, 0, NewIOError(ac.m.index.Path(), err)
		}
		tokens = append(tokens, token)
	}

	view := ac.txn.View()
	nextUID, err := view.HeaderNextUID()
	if err != nil {
		return 0, 0, NewCorruptionError(ac.m.index.Path(), "next_uid header malformed")
	}
	if nextUID == 0 {
		nextUID = 1
	}
	ac.origNextUID = nextUID

	newNext, err := ac.txn.AssignUIDs(nextUID)
	if err != nil {
		return 0, 0, NewIOError(ac.m.index.Path(), err)
	}
	if int(newNext-nextUID) != len(tokens) {
		return 0, 0, NewCorruptionError(ac.m.index.Path(), "assigned uid range size mismatch")
	}
	if err := ac.txn.SetHeaderNextUID(newNext); err != nil {
		return 0, 0, NewIOError(ac.m.index.Path(), err)
	}

	validity, err := view.HeaderUIDValidity()
	if err == nil && validity == 0 {
		_ = ac.txn.SetHeaderUIDValidity(uint32(ac.storage.Now().Unix()))
	}

	if err := ac.txn.Commit(); err != nil {
		return 0, 0, NewIOError(ac.m.index.Path(), err)
	}
	ac.txn = nil

	logger.Info("append context assigned map uids", logger.BatchID(ac.batchID), logger.Count(len(tokens)))
	return nextUID, newNext - 1, nil
}

// AppendMove rewrites the Record of every uid in mapUIDs (in order) to
// this batch's pending Append tuples, and expunges every uid in
// expungeMapUIDs. len(mapUIDs) must equal the number of pending appends.
func (ac *AppendContext) AppendMove(mapUIDs, expungeMapUIDs []uint32) error {
	if len(mapUIDs) != len(ac.appends) {
		return fmt.Errorf("dboxmap: append_move: %d map_uids for %d pending appends", len(mapUIDs), len(ac.appends))
	}
	txn, err := ac.m.index.BeginTransaction(false)
	if err != nil {
		return NewIOError(ac.m.index.Path(), err)
	}
	ac.txn = txn

	if err := ac.assignFileIDs(false); err != nil {
		return err
	}

	for i, uid := range mapUIDs {
		t := ac.appends[i]
		rec := dboxindex.Record{FileID: t.file.FileID(), Offset: t.offset, Size: t.size}
		if err := txn.UpdateRecord(uid, rec); err != nil {
			return fmt.Errorf("dboxmap: append_move: map_uid %d unreachable: %w", uid, err)
		}
	}
	for _, uid := range expungeMapUIDs {
		if err := txn.Expunge(uid); err != nil {
			return fmt.Errorf("dboxmap: append_move: expunge map_uid %d unreachable: %w", uid, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return NewIOError(ac.m.index.Path(), err)
	}
	ac.txn = nil
	return nil
}

// AssignUIDs assigns sequential mailbox UIDs, starting at firstUID, to
// every single-mailbox file created in this batch, requiring the final
// counter to equal lastUID+1.
func (ac *AppendContext) AssignUIDs(firstUID, lastUID uint32) error {
	next := firstUID
	for _, f := range ac.filesInBatch {
		if f.Variant() != dboxfile.Single {
			continue
		}
		if err := f.AssignID(next); err != nil {
			return NewIOError(f.Path(), err)
		}
		next++
	}
	if next != lastUID+1 {
		return NewCorruptionError(ac.storage.Dir, fmt.Sprintf("assign_uids: next=%d, want %d", next, lastUID+1))
	}
	return nil
}

// Commit finalizes the batch: no transaction may remain open, and the
// sync opened by assignFileIDs is closed successfully.
func (ac *AppendContext) Commit() error {
	if ac.txn != nil {
		return fmt.Errorf("dboxmap: append_commit called with an open transaction")
	}
	if ac.sync != nil {
		if err := ac.sync.Commit(); err != nil {
			return NewIOError(ac.m.index.Path(), err)
		}
	}
	ac.committed = true
	return nil
}

// Free rolls back any still-open transaction and sync, then rolls back
// the on-disk tail of every file in the batch that was not part of a
// committed batch: truncate to first_append_offset if the file had a
// real id, or unlink a fresh file that never received one. Always safe
// to call, including after Commit.
func (ac *AppendContext) Free() {
	if ac.txn != nil {
		_ = ac.txn.Rollback()
		ac.txn = nil
	}
	if ac.sync != nil && !ac.committed {
		_ = ac.sync.Rollback()
	}

	for _, f := range ac.filesInBatch {
		if !ac.committed {
			_ = f.FlushAppend()
			switch {
			case f.Variant() == dboxfile.Single:
				// AppendNext always creates a brand-new Single file, so an
				// uncommitted one is entirely this batch's own data; unlike
				// a Multi file its FileID is never meaningful, so rollback
				// can't key off it.
				_ = f.Unlink()
			case f.FileID() != 0 && f.FirstAppendOffset() > f.HeaderSize():
				_ = f.Truncate(f.FirstAppendOffset())
			case f.FileID() == 0:
				_ = f.Unlink()
			}
		}
		f.SetFirstAppendOffset(0)
		_ = f.Unlock()
		_ = f.Close()
	}
	ac.filesInBatch = nil
	ac.appends = nil
}

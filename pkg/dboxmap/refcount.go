package dboxmap

import (
	"fmt"

	"github.com/cobaltmail/dboxmap/internal/logger"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
	"github.com/cobaltmail/dboxmap/pkg/metrics"
)

// RefcountTxn applies ±N refcount deltas under overflow protection, and
// bulk-expunges every entry pointing at a given file_id. Both mutation
// kinds share the same sync-locked commit protocol.
type RefcountTxn struct {
	m        *Map
	txn      dboxindex.Transaction
	sync     dboxindex.Sync
	changed  bool
	success  bool
	external bool
	failed   bool // Begin itself failed; every mutation fails fast
}

// BeginRefcountTxn opens (without creating) and refreshes the map, then
// starts an index transaction with FSYNC, optionally EXTERNAL when the
// caller vouches for externally-serialized changes. A failure to
// open/refresh yields a context whose mutations all fail fast rather
// than returning an error from Begin itself, mirroring the original
// engine's null-transaction convention translated into Go as a sticky
// failed flag.
func (m *Map) BeginRefcountTxn(external bool) *RefcountTxn {
	if err := m.Open(false); err != nil {
		return &RefcountTxn{m: m, failed: true}
	}
	if err := m.Refresh(); err != nil {
		return &RefcountTxn{m: m, failed: true}
	}
	txn, err := m.index.BeginTransaction(external)
	if err != nil {
		return &RefcountTxn{m: m, failed: true}
	}
	return &RefcountTxn{m: m, txn: txn, external: external}
}

// UpdateRefcounts applies diff to every uid in mapUIDs. Lookups use the
// transaction's own view rather than the map's (a held transaction must
// not trigger a refresh); a missing uid is corruption. If any entry would
// reach the refcount ceiling the call stops there and returns
// ErrRefcountCeiling; the deltas already staged, including the failing
// one, stay in the transaction until Free rolls the whole transaction
// back.
func (rt *RefcountTxn) UpdateRefcounts(mapUIDs []uint32, diff int32) error {
	if rt.failed {
		return NewIOError(rt.m.index.Path(), fmt.Errorf("refcount transaction failed to begin"))
	}
	view := rt.txn.View()
	for _, uid := range mapUIDs {
		if _, found := view.SeqOfUID(uid); !found {
			err := NewCorruptionError(rt.m.index.Path(), fmt.Sprintf("map_uid=%d: lost while updating refcounts", uid))
			logger.Error("refcount update corruption", logger.MapUID(uid), logger.Err(err))
			return err
		}
		newValue, err := rt.txn.AtomicIncRef(uid, diff)
		if err != nil {
			return NewIOError(rt.m.index.Path(), err)
		}
		if newValue >= RefcountCeiling {
			logger.Warn("refcount ceiling reached", logger.MapUID(uid), logger.Count(int(newValue)))
			metrics.Get().IncRefcountOp("update", "ceiling")
			return ErrRefcountCeiling
		}
		rt.changed = true
	}
	metrics.Get().IncRefcountOp("update", "ok")
	return nil
}

// RemoveFileID expunges every live entry whose Record.FileID matches
// fileID.
func (rt *RefcountTxn) RemoveFileID(fileID uint32) error {
	if rt.failed {
		return NewIOError(rt.m.index.Path(), fmt.Errorf("refcount transaction failed to begin"))
	}
	view := rt.txn.View()
	n := view.Len()
	for seq := uint32(1); seq <= uint32(n); seq++ {
		entry, recordOK, _, ok := view.EntryAt(seq)
		if !ok {
			continue
		}
		if !recordOK {
			err := NewCorruptionError(rt.m.index.Path(), fmt.Sprintf("seq=%d: missing map extension payload during remove_file_id", seq))
			logger.Error("remove_file_id corruption", logger.Seq(seq), logger.Err(err))
			return err
		}
		if entry.Record.FileID != fileID {
			continue
		}
		if err := rt.txn.Expunge(entry.MapUID); err != nil {
			return NewIOError(rt.m.index.Path(), err)
		}
		rt.changed = true
	}
	return nil
}

// Commit drains the sync scope and commits the underlying transaction.
// A transaction with no changes is a no-op that never opens a sync.
func (rt *RefcountTxn) Commit() error {
	if rt.failed {
		return NewIOError(rt.m.index.Path(), fmt.Errorf("refcount transaction failed to begin"))
	}
	if !rt.changed {
		return nil
	}
	sync, err := rt.m.index.BeginSync()
	if err != nil {
		return NewIOError(rt.m.index.Path(), err)
	}
	rt.sync = sync
	if sync.Inconsistent() {
		rt.m.storage.SetSyncRebuild()
		logger.Warn("sync offset mismatch, scheduling rebuild", logger.StorageDir(rt.m.storage.Dir))
	}
	if err := rt.txn.Commit(); err != nil {
		return NewIOError(rt.m.index.Path(), err)
	}
	rt.success = true
	return nil
}

// Free commits the sync if Commit succeeded, rolls it back otherwise,
// and rolls back any transaction that was never committed. Always safe
// to call.
func (rt *RefcountTxn) Free() {
	if rt.failed {
		return
	}
	if rt.txn != nil && !rt.success {
		_ = rt.txn.Rollback()
	}
	if rt.sync != nil {
		if rt.success {
			_ = rt.sync.Commit()
		} else {
			_ = rt.sync.Rollback()
		}
	}
}

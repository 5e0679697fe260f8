package dboxmap

import (
	"math"

	"github.com/cobaltmail/dboxmap/internal/logger"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile"
)

// sizeUnset is the size sentinel for a pending Append tuple still being
// written.
const sizeUnset = math.MaxUint32

// findAppendableFile implements the D search algorithm: reuse one of the
// batch's own open files if one has room, otherwise backward-scan the map
// for a still-appendable multi-file, capped at MaxBackwardsLookups
// distinct files. Returns existing=false when the caller should create a
// new file instead.
func (ac *AppendContext) findAppendableFile(mailSize uint32) (file dboxfile.File, stream dboxfile.Stream, existing bool, err error) {
	rotateSize := ac.storage.RotateSize
	if rotateSize == 0 || mailSize >= rotateSize {
		return nil, nil, false, nil
	}

	// 1. Reuse the batch's own open files first.
	for ac.filesNonAppendableCount < len(ac.filesInBatch) {
		f := ac.filesInBatch[ac.filesNonAppendableCount]
		offset, statErr := f.NextAppendOffset()
		if statErr == nil && uint64(offset)+uint64(mailSize) <= uint64(rotateSize) {
			s, streamErr := f.AppendStream(0, 0)
			if streamErr == nil {
				return f, s, true, nil
			}
		}
		ac.filesNonAppendableCount++
	}

	// 2. Backward scan of the map.
	stamp := ac.storage.DayBeginStamp(ac.storage.RotateDays)
	m := ac.m
	m.mu.Lock()
	n := uint32(m.view.v.Len())
	m.mu.Unlock()

	examined := 0
	minSeenFileID := uint32(0)
	seq := n
	for seq >= 1 && examined < MaxBackwardsLookups {
		m.mu.Lock()
		entry, recordOK, _, ok := m.view.v.EntryAt(seq)
		m.mu.Unlock()
		if !ok || !recordOK {
			seq--
			continue
		}
		fileID := entry.Record.FileID
		uid := entry.MapUID
		if fileID == 0 || (minSeenFileID != 0 && fileID >= minSeenFileID) {
			seq--
			continue
		}
		minSeenFileID = fileID
		examined++

		if uint64(entry.Record.Offset)+uint64(entry.Record.Size)+uint64(mailSize) >= uint64(rotateSize) {
			seq--
			continue
		}
		if ac.isAppending(fileID) {
			seq--
			continue
		}

		f, s, stopScanning, tryErr := ac.tryAppend(fileID, stamp, mailSize)
		if tryErr != nil {
			return nil, nil, false, tryErr
		}
		if f != nil {
			f.SetFirstAppendOffset(s.Offset())
			ac.filesInBatch = append(ac.filesInBatch, f)
			return f, s, true, nil
		}
		if stopScanning {
			break
		}

		// The view may have been refreshed inside tryAppend; reposition
		// to the sequence just before this candidate's map_uid.
		if uid <= 1 {
			break
		}
		m.mu.Lock()
		_, hiSeq, repositioned := m.view.v.SeqRange(1, uid-1)
		if repositioned {
			seq = hiSeq
		}
		m.mu.Unlock()
		if !repositioned {
			break
		}
	}
	return nil, nil, false, nil
}

func (ac *AppendContext) isAppending(fileID uint32) bool {
	for _, f := range ac.filesInBatch {
		if f.Variant() == dboxfile.Multi && f.FileID() == fileID {
			return true
		}
	}
	return false
}

// tryAppend opens fileID, locks it, and confirms it still has room for
// mailSize after refreshing the map under the lock. stopScanning is true
// only when the file is too old, since every older file is also too old.
func (ac *AppendContext) tryAppend(fileID uint32, stamp int64, mailSize uint32) (file dboxfile.File, stream dboxfile.Stream, stopScanning bool, err error) {
	f, openErr := ac.m.files.OpenMulti(fileID)
	if openErr != nil {
		return nil, nil, false, nil // keep scanning
	}
	deleted, openErr := f.OpenOrCreate()
	if openErr != nil {
		return nil, nil, false, nil // keep scanning
	}
	if deleted {
		return nil, nil, false, nil
	}
	if f.CreateTime() != 0 && f.CreateTime() < stamp {
		f.Close()
		return nil, nil, true, nil // stop scanning: older files are also too old
	}
	lockResult, lockErr := f.TryLock()
	if lockErr != nil {
		f.Close()
		return nil, nil, false, nil
	}
	if lockResult == dboxfile.LockContended {
		// Retry-later hint: deliberately dropped, see DESIGN.md.
		f.Close()
		return nil, nil, false, nil
	}

	// Re-stat to confirm the file still exists: a concurrent GC/reclaim
	// job can unlink the path between OpenOrCreate and this successful
	// lock, and a write against the orphaned fd would silently lose the
	// message once the fd closes.
	if deleted, statErr := f.Deleted(); statErr != nil || deleted {
		f.Unlock()
		f.Close()
		return nil, nil, false, nil
	}

	if err := ac.m.Refresh(); err != nil {
		f.Unlock()
		f.Close()
		return nil, nil, false, nil
	}

	lastOffset, lastSize := ac.lastOffsetAndSize(fileID)
	newSize := uint64(lastOffset) + uint64(lastSize) + uint64(mailSize)
	if newSize > uint64(ac.storage.RotateSize) {
		f.Unlock()
		f.Close()
		return nil, nil, false, nil
	}
	s, streamErr := f.AppendStream(lastOffset, lastSize)
	if streamErr != nil {
		f.Unlock()
		f.Close()
		return nil, nil, false, nil
	}
	logger.Debug("append context reusing file", logger.FileID(fileID), logger.Offset(lastOffset))
	return f, s, false, nil
}

func (ac *AppendContext) lastOffsetAndSize(fileID uint32) (uint32, uint32) {
	ac.m.mu.Lock()
	defer ac.m.mu.Unlock()
	n := uint32(ac.m.view.v.Len())
	var lastOffset, lastSize uint32
	for seq := uint32(1); seq <= n; seq++ {
		entry, recordOK, _, ok := ac.m.view.v.EntryAt(seq)
		if !ok || !recordOK || entry.Record.FileID != fileID {
			continue
		}
		if entry.Record.Offset+entry.Record.Size > lastOffset+lastSize {
			lastOffset, lastSize = entry.Record.Offset, entry.Record.Size
		}
	}
	return lastOffset, lastSize
}

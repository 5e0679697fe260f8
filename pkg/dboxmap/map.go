// Package dboxmap implements the shared-message map: a deduplicated,
// refcounted index from a logical message body (map_uid) to its physical
// location in one of a small number of append-only multi-files.
package dboxmap

import (
	"fmt"
	"sync"
	"time"

	"github.com/cobaltmail/dboxmap/internal/logger"
	"github.com/cobaltmail/dboxmap/pkg/dboxfile"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
	"github.com/cobaltmail/dboxmap/pkg/dboxstorage"
	"github.com/cobaltmail/dboxmap/pkg/metrics"
)

// Map is a process-wide handle bound to one storage root. It owns the
// index, one long-lived read view, a cached zero-ref file-id set, and a
// creation timestamp used as a fallback uid_validity.
type Map struct {
	mu sync.Mutex

	index   dboxindex.Index
	files   dboxfile.FileManager
	storage *dboxstorage.Storage

	view View

	createdUIDValidity uint32
	zeroRefCache       []uint32
	opened             bool
}

// View wraps a dboxindex.View with the map-level read operations layered
// on top of it (B: Lookup/Refresh Engine).
type View struct {
	v dboxindex.View
}

// New returns an unopened Map. index, files, and storage are the external
// collaborators described in §6; storage additionally supplies the clock
// and rotation policy the append context consults.
func New(index dboxindex.Index, files dboxfile.FileManager, storage *dboxstorage.Storage) *Map {
	return &Map{index: index, files: files, storage: storage, createdUIDValidity: uint32(time.Now().Unix())}
}

// Open opens the underlying index, optionally creating it. Open is
// idempotent.
func (m *Map) Open(createMissing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}
	if err := m.index.Open(createMissing); err != nil {
		return NewIOError(m.index.Path(), err)
	}
	view, err := m.index.NewView()
	if err != nil {
		return NewIOError(m.index.Path(), err)
	}
	m.view = View{v: view}
	m.opened = true
	return nil
}

// Close releases the cached zero-ref set, closes the view, and closes the
// index.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil
	}
	m.zeroRefCache = nil
	if m.view.v != nil {
		m.view.v.Close()
	}
	m.opened = false
	return m.index.Close()
}

// Refresh performs an index-log refresh and replaces the map's view with
// a fresh snapshot, discarding any delayed-expunge bookkeeping the prior
// view accumulated.
func (m *Map) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked()
}

func (m *Map) refreshLocked() error {
	view, err := m.index.NewView()
	if err != nil {
		m.index.ResetError()
		return NewIOError(m.index.Path(), err)
	}
	if m.view.v != nil {
		m.view.v.Close()
	}
	m.view = View{v: view}
	return nil
}

// Lookup translates map_uid to its physical location, refreshing and
// retrying once if the uid is not found in the current view.
func (m *Map) Lookup(mapUID uint32) Lookup[Record] {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, missing, err := m.lookupOnce(mapUID)
	if err != nil {
		return Err[Record](err)
	}
	if !missing {
		return Found(rec)
	}
	if err := m.refreshLocked(); err != nil {
		return Err[Record](err)
	}
	rec, missing, err = m.lookupOnce(mapUID)
	if err != nil {
		return Err[Record](err)
	}
	if missing {
		return Missing[Record]()
	}
	return Found(rec)
}

func (m *Map) lookupOnce(mapUID uint32) (Record, bool, error) {
	seq, found := m.view.v.SeqOfUID(mapUID)
	if !found {
		return Record{}, true, nil
	}
	entry, recordOK, _, ok := m.view.v.EntryAt(seq)
	if !ok {
		return Record{}, true, nil
	}
	if !recordOK {
		err := NewCorruptionError(m.index.Path(), fmt.Sprintf("map_uid=%d: missing map extension payload", mapUID))
		logger.Error("map lookup corruption", logger.MapUID(mapUID), logger.Err(err))
		metrics.Get().IncCorruption("lookup")
		return Record{}, false, err
	}
	if entry.Record.FileID == 0 {
		err := NewCorruptionError(m.index.Path(), fmt.Sprintf("map_uid=%d: file_id is zero", mapUID))
		logger.Error("map lookup corruption", logger.MapUID(mapUID), logger.Err(err))
		metrics.Get().IncCorruption("lookup")
		return Record{}, false, err
	}
	return entry.Record, false, nil
}

// ViewLookupRec returns the full entry (map_uid, Record, refcount) at
// seq in the map's current view.
func (m *Map) ViewLookupRec(seq uint32) Lookup[MapEntry] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLookupRecLocked(m.view.v, seq)
}

func (m *Map) viewLookupRecLocked(v dboxindex.View, seq uint32) Lookup[MapEntry] {
	entry, recordOK, refOK, ok := v.EntryAt(seq)
	if !ok {
		return Missing[MapEntry]()
	}
	if !recordOK || !refOK {
		err := NewCorruptionError(m.index.Path(), fmt.Sprintf("seq=%d: missing map or ref extension payload", seq))
		logger.Error("map view_lookup_rec corruption", logger.Seq(seq), logger.Err(err))
		metrics.Get().IncCorruption("view_lookup_rec")
		return Err[MapEntry](err)
	}
	return Found(MapEntry{MapUID: entry.MapUID, Record: entry.Record, Refcount: entry.Ref.Refcount})
}

// GetFileMsgs returns every (map_uid, offset, refcount) entry currently
// pointing at fileID, backed by the same scan machinery as
// GetZeroRefFiles. It refreshes the view first so a caller driving
// compaction right after a commit sees its own writes.
func (m *Map) GetFileMsgs(fileID uint32) ([]MapEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshLocked(); err != nil {
		return nil, err
	}

	var out []MapEntry
	n := m.view.v.Len()
	for seq := uint32(1); seq <= uint32(n); seq++ {
		entry, recordOK, refOK, ok := m.view.v.EntryAt(seq)
		if !ok || !recordOK {
			continue
		}
		if entry.Record.FileID != fileID {
			continue
		}
		refcount := uint16(0)
		if refOK {
			refcount = entry.Ref.Refcount
		}
		out = append(out, MapEntry{MapUID: entry.MapUID, Record: entry.Record, Refcount: refcount})
	}
	return out, nil
}

// GetUidValidity returns the stored uid_validity if nonzero, otherwise
// the map's created_uid_validity fallback.
func (m *Map) GetUidValidity() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.view.v.HeaderUIDValidity()
	if err != nil {
		return 0, NewCorruptionError(m.index.Path(), "uid_validity header malformed")
	}
	if v != 0 {
		return v, nil
	}
	return m.createdUIDValidity, nil
}

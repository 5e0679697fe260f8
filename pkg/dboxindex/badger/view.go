package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
)

// view is a long-lived badger read transaction. Badger's MVCC guarantees
// it observes a consistent snapshot of the database for its entire
// lifetime, which is exactly the monotonically-advancing, stable-between-
// refreshes semantics dboxindex.View requires.
type view struct {
	txn    *badgerdb.Txn
	uids   []uint32 // ascending, cached at construction time
	closed bool
}

func newView(db *badgerdb.DB) (*view, error) {
	txn := db.NewTransaction(false)
	uids, err := scanUIDs(txn)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &view{txn: txn, uids: uids}, nil
}

func scanUIDs(txn *badgerdb.Txn) ([]uint32, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = uidPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var uids []uint32
	for it.Seek(uidPrefix); it.ValidForPrefix(uidPrefix); it.Next() {
		item := it.Item()
		uids = append(uids, uidFromKey(item.KeyCopy(nil)))
	}
	return uids, nil
}

func (v *view) Close() {
	if v.closed {
		return
	}
	v.txn.Discard()
	v.closed = true
}

func (v *view) Len() int { return len(v.uids) }

func (v *view) SeqOfUID(uid uint32) (uint32, bool) {
	// uids is sorted ascending (badger iterates keys in byte order and our
	// uid encoding is big-endian, so key order == numeric order).
	lo, hi := 0, len(v.uids)
	for lo < hi {
		mid := (lo + hi) / 2
		if v.uids[mid] < uid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(v.uids) && v.uids[lo] == uid {
		return uint32(lo + 1), true
	}
	return 0, false
}

func (v *view) UIDOfSeq(seq uint32) (uint32, bool) {
	if seq == 0 || int(seq) > len(v.uids) {
		return 0, false
	}
	return v.uids[seq-1], true
}

func (v *view) EntryAt(seq uint32) (dboxindex.Entry, bool, bool, bool) {
	uid, ok := v.UIDOfSeq(seq)
	if !ok {
		return dboxindex.Entry{}, false, false, false
	}
	item, err := v.txn.Get(keyForUID(uid))
	if err != nil {
		return dboxindex.Entry{MapUID: uid}, false, false, true
	}
	var entry dboxindex.Entry
	entry.MapUID = uid
	recordOK, refOK := false, false
	_ = item.Value(func(val []byte) error {
		fileID, offset, size, refcount, decOK := decodeRow(val)
		if decOK {
			entry.Record = dboxindex.Record{FileID: fileID, Offset: offset, Size: size}
			entry.Ref = dboxindex.Ref{Refcount: refcount}
			recordOK, refOK = true, true
		}
		return nil
	})
	return entry, recordOK, refOK, true
}

func (v *view) SeqRange(loUID, hiUID uint32) (uint32, uint32, bool) {
	if loUID > hiUID {
		return 0, 0, false
	}
	lo := lowerBound(v.uids, loUID)
	hi := lowerBound(v.uids, hiUID+1) - 1
	if lo >= len(v.uids) || hi < lo {
		return 0, 0, false
	}
	return uint32(lo + 1), uint32(hi + 1), true
}

func lowerBound(uids []uint32, uid uint32) int {
	lo, hi := 0, len(uids)
	for lo < hi {
		mid := (lo + hi) / 2
		if uids[mid] < uid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (v *view) HeaderHighestFileID() (uint32, error) {
	return v.readHeaderU32(keyHighest)
}

func (v *view) HeaderNextUID() (uint32, error) {
	return v.readHeaderU32(keyNextUID)
}

func (v *view) HeaderUIDValidity() (uint32, error) {
	return v.readHeaderU32(keyValidity)
}

func (v *view) readHeaderU32(key string) (uint32, error) {
	item, err := v.txn.Get([]byte(key))
	if err == badgerdb.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var out uint32
	err = item.Value(func(val []byte) error {
		u, ok := decodeU32(val)
		if !ok {
			return dboxindex.ErrMalformedHeader
		}
		out = u
		return nil
	})
	return out, err
}

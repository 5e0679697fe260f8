package dboxmap

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cobaltmail/dboxmap/pkg/metrics"
)

// GetZeroRefFiles scans every live sequence and returns the set of
// file_ids for which every entry is present, unexpunged, and at refcount
// zero. The result is cached on the map and cleared on each call; open
// failure returns an empty set (mirroring dbox_map_get_zero_ref_files's
// unconditional dbox_map_open call), and a failed refresh is tolerated
// since stale data is acceptable for garbage collection.
func (m *Map) GetZeroRefFiles() ([]uint32, error) {
	_, span := startSpan(context.Background(), "dboxmap.GetZeroRefFiles")
	start := time.Now()
	defer func() { endSpan(span, nil) }()

	if err := m.Open(false); err != nil {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.zeroRefCache = nil
	_ = m.refreshLocked() // best-effort; stale view is fine for GC

	zero := make(map[uint32]bool)
	nonZero := make(map[uint32]bool)

	n := m.view.v.Len()
	for seq := uint32(1); seq <= uint32(n); seq++ {
		entry, recordOK, refOK, ok := m.view.v.EntryAt(seq)
		if !ok || !recordOK || !refOK {
			continue
		}
		fileID := entry.Record.FileID
		if fileID == 0 {
			continue
		}
		if entry.Ref.Refcount == 0 {
			if !nonZero[fileID] {
				zero[fileID] = true
			}
		} else {
			delete(zero, fileID)
			nonZero[fileID] = true
		}
	}

	result := make([]uint32, 0, len(zero))
	for id := range zero {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	m.zeroRefCache = result
	span.SetAttributes(attribute.Int("dboxmap.zero_ref_files", len(result)))
	metrics.Get().ObserveGCScan(time.Since(start).Seconds(), len(result))
	return result, nil
}

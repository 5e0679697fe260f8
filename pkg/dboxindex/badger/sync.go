package badger

import "sync"

// syncScope realizes dboxindex.Sync. Within one process it is a plain
// mutex held by the owning Index; badger's own transaction conflict
// detection still guards concurrent writers across processes sharing the
// same badger directory, but the map's allocation protocol additionally
// wants a single in-process serialization point for file_id/map_uid
// assignment, which this provides.
type syncScope struct {
	mu           *sync.Mutex
	begin        uint64
	end          uint64
	inconsistent bool
	forced       bool
	done         bool
}

func beginSync(mu *sync.Mutex, seq *uint64) *syncScope {
	mu.Lock()
	begin := *seq
	return &syncScope{mu: mu, begin: begin, end: begin}
}

func (s *syncScope) Offsets() (uint64, uint64) { return s.begin, s.end }

func (s *syncScope) Inconsistent() bool { return s.forced || s.inconsistent }

func (s *syncScope) ForceInconsistent() { s.forced = true }

func (s *syncScope) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	s.mu.Unlock()
	return nil
}

func (s *syncScope) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	s.mu.Unlock()
	return nil
}

// Package dboxstorage provides the Storage collaborator the map and its
// append context read rotation policy and the crash-recovery flag from:
// storage_dir, rotate_size, rotate_days, sync_rebuild, and a clock
// capability injected rather than read from a process-global, so tests
// can control the day-rollover boundary deterministically.
package dboxstorage

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current time. The zero value of realClock uses
// time.Now; tests substitute a fixed or steppable clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// Storage is the map's view of its owning mailbox storage: the rotation
// thresholds, the storage root, and the crash-recovery flag the sync
// protocol sets when it detects a mismatch.
type Storage struct {
	Dir         string
	RotateSize  uint32 // 0 selects single-mailbox files
	RotateDays  int    // 0 disables the age cutoff
	Clock       Clock
	syncRebuild atomic.Bool
}

// New returns a Storage with sane defaults; Clock defaults to RealClock
// if left nil.
func New(dir string, rotateSize uint32, rotateDays int) *Storage {
	return &Storage{Dir: dir, RotateSize: rotateSize, RotateDays: rotateDays, Clock: RealClock}
}

func (s *Storage) clock() Clock {
	if s.Clock == nil {
		return RealClock
	}
	return s.Clock
}

// SyncRebuild reports whether a prior sync detected a crash mid-commit
// and scheduled a full rebuild.
func (s *Storage) SyncRebuild() bool { return s.syncRebuild.Load() }

// SetSyncRebuild flags storage for a rebuild pass.
func (s *Storage) SetSyncRebuild() { s.syncRebuild.Store(true) }

// ClearSyncRebuild resets the flag once a rebuild has run.
func (s *Storage) ClearSyncRebuild() { s.syncRebuild.Store(false) }

// DayBeginStamp returns the epoch-seconds of midnight local time
// (days-1) days ago; days==0 disables the cutoff by returning 0, which
// every real create_time is greater than.
func (s *Storage) DayBeginStamp(days int) int64 {
	if days == 0 {
		return 0
	}
	now := s.clock().Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	midnight = midnight.AddDate(0, 0, -(days - 1))
	return midnight.Unix()
}

// Now returns the current time from the injected clock.
func (s *Storage) Now() time.Time { return s.clock().Now() }

// Package fs backs pkg/dboxfile with ordinary files on a local (or
// network) filesystem, using golang.org/x/sys/unix flock for advisory
// locking the way the original engine's dbox_file_try_lock does.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cobaltmail/dboxmap/pkg/dboxfile"
)

// HeaderSize is the fixed dbox data-file header every file begins with.
// Rollback never truncates below this offset, matching the original
// engine's file_header_size field.
const HeaderSize = 128

// Manager is a filesystem-backed dboxfile.FileManager rooted at one
// storage directory.
type Manager struct {
	dir      string
	nextTemp uint64
}

func NewManager(storageDir string) *Manager {
	return &Manager{dir: filepath.Join(storageDir, "mailboxes")}
}

func (m *Manager) multiPath(fileID uint32) string {
	if fileID == 0 {
		id := atomic.AddUint64(&m.nextTemp, 1)
		return filepath.Join(m.dir, fmt.Sprintf("dbox-new.%d.%d", os.Getpid(), id))
	}
	return filepath.Join(m.dir, fmt.Sprintf("dbox-Mails.%d", fileID))
}

func (m *Manager) singlePath(mailboxID string) string {
	return filepath.Join(m.dir, "dbox-Mail."+mailboxID)
}

func (m *Manager) OpenMulti(fileID uint32) (dboxfile.File, error) {
	if fileID == 0 {
		return nil, fmt.Errorf("dboxfile/fs: OpenMulti requires a nonzero file_id")
	}
	return &file{mgr: m, variant: dboxfile.Multi, fileID: fileID, path: m.multiPath(fileID)}, nil
}

func (m *Manager) CreateMulti() (dboxfile.File, error) {
	return &file{mgr: m, variant: dboxfile.Multi, path: m.multiPath(0)}, nil
}

func (m *Manager) OpenSingle(mailboxID string) (dboxfile.File, error) {
	return &file{mgr: m, variant: dboxfile.Single, mailboxID: mailboxID, path: m.singlePath(mailboxID)}, nil
}

type file struct {
	mgr       *Manager
	variant   dboxfile.Variant
	fileID    uint32
	mailboxID string
	path      string

	f                 *os.File
	locked            bool
	createTime        int64
	firstAppendOffset uint32
	mailboxUID        uint32 // Single variant only; see AssignID
}

func (f *file) Variant() dboxfile.Variant { return f.variant }
func (f *file) FileID() uint32            { return f.fileID }
func (f *file) MailboxUID() uint32        { return f.mailboxUID }
func (f *file) Path() string              { return f.path }

// CreateTime returns the file's modification time as seen by the last
// OpenOrCreate, not a true creation time: no creation time is recorded,
// so a multi-file appended to recently reads as recently created.
func (f *file) CreateTime() int64  { return f.createTime }
func (f *file) HeaderSize() uint32 { return HeaderSize }

func (f *file) FirstAppendOffset() uint32     { return f.firstAppendOffset }
func (f *file) SetFirstAppendOffset(v uint32) { f.firstAppendOffset = v }

func (f *file) OpenOrCreate() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return false, err
	}
	fh, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return false, err
	}
	if st.Size() == 0 {
		if err := writeHeader(fh); err != nil {
			fh.Close()
			return false, err
		}
	}
	// Re-stat after a possible creation race to detect a concurrent
	// unlink between OpenFile and here.
	if _, err := os.Stat(f.path); err != nil {
		if os.IsNotExist(err) {
			fh.Close()
			return true, nil
		}
		fh.Close()
		return false, err
	}
	f.f = fh
	f.createTime = st.ModTime().Unix()
	return false, nil
}

func writeHeader(fh *os.File) error {
	hdr := make([]byte, HeaderSize)
	copy(hdr, []byte("DBOXMAP1"))
	_, err := fh.WriteAt(hdr, 0)
	return err
}

func (f *file) Deleted() (bool, error) {
	if _, err := os.Stat(f.path); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (f *file) TryLock() (dboxfile.LockResult, error) {
	if f.f == nil {
		return 0, fmt.Errorf("dboxfile/fs: file not open")
	}
	err := unix.Flock(int(f.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		f.locked = true
		return dboxfile.LockOK, nil
	}
	if err == unix.EWOULDBLOCK {
		return dboxfile.LockContended, nil
	}
	return 0, err
}

func (f *file) Unlock() error {
	if f.f == nil || !f.locked {
		return nil
	}
	f.locked = false
	return unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
}

func (f *file) NextAppendOffset() (uint32, error) {
	if f.f == nil {
		return 0, fmt.Errorf("dboxfile/fs: file not open")
	}
	st, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint32(st.Size()), nil
}

func (f *file) AppendStream(lastOffset, lastSize uint32) (dboxfile.Stream, error) {
	if f.f == nil {
		return nil, fmt.Errorf("dboxfile/fs: file not open")
	}
	offset, err := f.NextAppendOffset()
	if err != nil {
		return nil, err
	}
	expected := lastOffset + lastSize
	if lastOffset != 0 || lastSize != 0 {
		if expected > offset {
			return nil, fmt.Errorf("dboxfile/fs: %s shorter than last known message tail (have %d, want >= %d)", f.path, offset, expected)
		}
		offset = expected
	}
	return &stream{f: f.f, offset: offset}, nil
}

func (f *file) FlushAppend() error {
	if f.f == nil {
		return nil
	}
	return f.f.Sync()
}

func (f *file) AssignID(id uint32) error {
	if f.variant == dboxfile.Single {
		// A single-mailbox file is keyed by mailbox path already; record
		// the assigned mailbox UID without renaming anything on disk.
		// Kept out of f.fileID, which FileID() documents as always 0 for
		// a Single file.
		f.mailboxUID = id
		return nil
	}
	oldPath := f.path
	f.fileID = id
	f.path = f.mgr.multiPath(id)
	if oldPath == f.path {
		return nil
	}
	if f.f != nil {
		if err := f.f.Sync(); err != nil {
			return err
		}
	}
	if err := os.Rename(oldPath, f.path); err != nil {
		return err
	}
	return nil
}

func (f *file) Truncate(offset uint32) error {
	if f.f == nil {
		return nil
	}
	return f.f.Truncate(int64(offset))
}

func (f *file) Unlink() error {
	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *file) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

type stream struct {
	f      *os.File
	offset uint32
}

func (s *stream) Offset() uint32 { return s.offset }

func (s *stream) Write(p []byte) (int, error) {
	n, err := s.f.WriteAt(p, int64(s.offset))
	s.offset += uint32(n)
	return n, err
}

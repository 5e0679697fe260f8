package dboxmap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmail/dboxmap/pkg/dboxfile/fs"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex/badger"
	"github.com/cobaltmail/dboxmap/pkg/dboxstorage"
)

func TestFindAppendableFileReusesBatchOwnFileWhenRoomRemains(t *testing.T) {
	m := newTestMap(t)

	ac, err := m.AppendBeginStorage()
	require.NoError(t, err)
	defer ac.Free()

	f1, s1, err := ac.AppendNext(4)
	require.NoError(t, err)
	_, err = s1.Write([]byte("aaaa"))
	require.NoError(t, err)
	require.NoError(t, ac.FinishMultiMail(s1))

	f2, s2, err := ac.AppendNext(4)
	require.NoError(t, err)
	_, err = s2.Write([]byte("bbbb"))
	require.NoError(t, err)
	require.NoError(t, ac.FinishMultiMail(s2))

	require.Equal(t, f1.Path(), f2.Path(), "a second small message in the same batch should reuse the first file")

	first, last, err := ac.AssignMapUIDs()
	require.NoError(t, err)
	require.NoError(t, ac.Commit())
	require.Equal(t, first+1, last)
}

// multiFilePath mirrors fs.Manager's naming so the test can reach behind
// the dboxfile.File interface to backdate a file's mtime directly.
func multiFilePath(dir string, fileID uint32) string {
	return filepath.Join(dir, "mailboxes", fmt.Sprintf("dbox-Mails.%d", fileID))
}

func TestFindAppendableFileStopsScanningFilesOlderThanRotateDays(t *testing.T) {
	dir := t.TempDir()
	index := badger.New(dir)
	files := fs.NewManager(dir)
	storage := dboxstorage.New(dir, 2<<20, 1) // one-day cutoff, real clock
	m := New(index, files, storage)
	require.NoError(t, m.Open(true))
	defer m.Close()

	uid1 := appendOneMessage(t, m, "aaaa")
	rec1, found, err := m.Lookup(uid1).Unwrap()
	require.NoError(t, err)
	require.True(t, found)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(multiFilePath(dir, rec1.FileID), old, old))

	uid2 := appendOneMessage(t, m, "bbbb")
	rec2, found, err := m.Lookup(uid2).Unwrap()
	require.NoError(t, err)
	require.True(t, found)

	require.NotEqual(t, rec1.FileID, rec2.FileID, "a file older than the rotate_days cutoff must not be reused")
}

func TestFindAppendableFileIgnoresZeroRotateSize(t *testing.T) {
	dir := t.TempDir()
	index := badger.New(dir)
	files := fs.NewManager(dir)
	storage := dboxstorage.New(dir, 0, 0) // rotate_size==0 selects single-mailbox files
	m := New(index, files, storage)
	require.NoError(t, m.Open(true))
	defer m.Close()

	ac, err := m.AppendBeginStorage()
	require.NoError(t, err)
	defer ac.Free()

	f, s, existing, err := ac.findAppendableFile(4)
	require.NoError(t, err)
	require.False(t, existing)
	require.Nil(t, f)
	require.Nil(t, s)
}

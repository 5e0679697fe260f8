package dboxmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmail/dboxmap/pkg/dboxfile/fs"
	"github.com/cobaltmail/dboxmap/pkg/dboxindex/badger"
	"github.com/cobaltmail/dboxmap/pkg/dboxstorage"
)

// newTestMap builds an opened Map rooted at a fresh temp directory, backed
// by the real badger index and real filesystem data files.
func newTestMap(t *testing.T) *Map {
	t.Helper()
	dir := t.TempDir()
	index := badger.New(dir)
	files := fs.NewManager(dir)
	storage := dboxstorage.New(dir, 2<<20, 0)

	m := New(index, files, storage)
	require.NoError(t, m.Open(true))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// appendOneMessage runs a full single-message append batch through the
// multi-file path and returns the assigned map_uid.
func appendOneMessage(t *testing.T, m *Map, body string) uint32 {
	t.Helper()
	ac, err := m.AppendBeginStorage()
	require.NoError(t, err)
	defer ac.Free()

	_, stream, err := ac.AppendNext(uint32(len(body)))
	require.NoError(t, err)
	_, err = stream.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, ac.FinishMultiMail(stream))

	first, last, err := ac.AssignMapUIDs()
	require.NoError(t, err)
	require.Equal(t, first, last)
	require.NoError(t, ac.Commit())
	return first
}

func TestOpenIsIdempotent(t *testing.T) {
	m := newTestMap(t)
	require.NoError(t, m.Open(true))
}

func TestLookupMissingUIDReturnsMissing(t *testing.T) {
	m := newTestMap(t)
	_, found, err := m.Lookup(999).Unwrap()
	require.NoError(t, err)
	require.False(t, found)
}

func TestAppendThenLookupRoundTrip(t *testing.T) {
	m := newTestMap(t)
	uid := appendOneMessage(t, m, "hello world")

	rec, found, err := m.Lookup(uid).Unwrap()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(len("hello world")), rec.Size)
	require.NotZero(t, rec.FileID)
}

func TestAppendAssignsIncreasingUIDs(t *testing.T) {
	m := newTestMap(t)
	uid1 := appendOneMessage(t, m, "first")
	uid2 := appendOneMessage(t, m, "second")
	require.Less(t, uid1, uid2)
}

func TestGetUidValidityFallsBackToCreationTime(t *testing.T) {
	m := newTestMap(t)
	validity, err := m.GetUidValidity()
	require.NoError(t, err)
	require.NotZero(t, validity)
}

func TestGetFileMsgsReturnsEveryEntryForFile(t *testing.T) {
	m := newTestMap(t)
	uid := appendOneMessage(t, m, "payload")

	rec, found, err := m.Lookup(uid).Unwrap()
	require.NoError(t, err)
	require.True(t, found)

	entries, err := m.GetFileMsgs(rec.FileID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uid, entries[0].MapUID)
	require.Equal(t, uint16(1), entries[0].Refcount)
}

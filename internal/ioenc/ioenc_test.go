package ioenc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIO(t *testing.T) *LocalIO {
	t.Helper()
	key := make([]byte, 16)
	io, err := NewLocalIO(t.TempDir(), key)
	require.NoError(t, err)
	return io
}

func TestWriteReadRoundTrip(t *testing.T) {
	io := newTestIO(t)

	require.NoError(t, io.Write("1.page", []byte("page one contents")))
	data, err := io.Read("1.page")
	require.NoError(t, err)
	assert.Equal(t, []byte("page one contents"), data)
}

func TestReadMissing(t *testing.T) {
	io := newTestIO(t)
	_, err := io.Read("nope.page")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestReadIntegrityFailure(t *testing.T) {
	io := newTestIO(t)
	require.NoError(t, io.Write("1.page", []byte("original")))

	// Corrupt the stored blob directly on disk.
	path := io.path("1.page")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0600))

	_, err = io.Read("1.page")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestNumFilesAndTotalSize(t *testing.T) {
	io := newTestIO(t)
	assert.Equal(t, 0, io.NumFiles())

	require.NoError(t, io.Write("1.page", []byte("aaa")))
	require.NoError(t, io.Write("2.page", []byte("bbbbb")))

	assert.Equal(t, 2, io.NumFiles())
	assert.Greater(t, io.TotalSize(), int64(0))

	// Overwriting an existing blob must not double-count the file.
	require.NoError(t, io.Write("1.page", []byte("c")))
	assert.Equal(t, 2, io.NumFiles())
}

func TestList(t *testing.T) {
	io := newTestIO(t)

	names, err := io.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, io.Write("1.page", []byte("aaa")))
	require.NoError(t, io.Write("2.page", []byte("bbbbb")))

	names, err = io.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.page", "2.page"}, names)
}

package store

import (
	"testing"

	"github.com/kaimast/credb/internal/buffer"
	"github.com/kaimast/credb/internal/ioenc"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, numShards uint32) *Store {
	t.Helper()
	key := make([]byte, 16)
	io, err := ioenc.NewLocalIO(t.TempDir(), key)
	require.NoError(t, err)

	return NewStore(numShards, func(shardID uint32) *ledger.Log {
		mgr := buffer.NewManager(io, ledger.BlockCodec{}, nil, 0)
		return ledger.NewLog(shardID, mgr, 0)
	})
}

func TestReplayRebuildsChainsAfterRestart(t *testing.T) {
	key := make([]byte, 16)
	dir := t.TempDir()

	open := func() (*Store, *buffer.Manager) {
		io, err := ioenc.NewLocalIO(dir, key)
		require.NoError(t, err)
		mgr := buffer.NewManager(io, ledger.BlockCodec{}, nil, 0)
		s := NewStore(1, func(shardID uint32) *ledger.Log {
			return ledger.NewLog(shardID, mgr, 0)
		})
		require.NoError(t, s.Replay())
		return s, mgr
	}

	s1, mgr1 := open()
	_, err := s1.Put("docs", "foo", map[string]any{"v": "bar"})
	require.NoError(t, err)
	_, err = s1.Put("docs", "foo", map[string]any{"v": "baz"})
	require.NoError(t, err)
	require.NoError(t, mgr1.FlushAll())

	// Simulate a restart: fresh store over the same on-disk pages.
	s2, _ := open()
	doc, _, err := s2.Get("docs", "foo", "", 0)
	require.NoError(t, err, "a restarted store must recover its committed writes")
	assert.Equal(t, map[string]any{"v": "baz"}, doc)

	history, err := s2.History("docs", "foo")
	require.NoError(t, err)
	assert.Len(t, history, 2, "every version, not just the latest, must survive a restart")

	_, err = s2.Put("docs", "foo", map[string]any{"v": "qux"})
	require.NoError(t, err, "a restarted store must be able to keep appending without colliding with prior pages")
}

func TestPutThenGetLatest(t *testing.T) {
	s := newTestStore(t, 4)

	_, err := s.Put("docs", "foo", map[string]any{"v": "bar"})
	require.NoError(t, err)
	_, err = s.Put("docs", "foo", map[string]any{"v": "baz"})
	require.NoError(t, err)

	doc, _, err := s.Get("docs", "foo", "", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "baz"}, doc)
}

func TestHistoryNewestFirst(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "foo", map[string]any{"v": "bar"})
	require.NoError(t, err)
	_, err = s.Put("docs", "foo", map[string]any{"v": "baz"})
	require.NoError(t, err)

	hist, err := s.History("docs", "foo")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "baz", hist[0]["v"])
	assert.Equal(t, "bar", hist[1]["v"])
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t, 4)
	_, _, err := s.Get("docs", "nope", "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidKeyRejected(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "has space", map[string]any{"v": 1})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAddShallowMerge(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "foo", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	_, err = s.Add("docs", "foo", map[string]any{"b": 3, "c": 4})
	require.NoError(t, err)

	doc, _, err := s.Get("docs", "foo", "", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, doc)
}

func TestRemoveTombstonesThenHas(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "foo", map[string]any{"v": 1})
	require.NoError(t, err)
	assert.True(t, s.Has("docs", "foo"))

	_, err = s.Remove("docs", "foo")
	require.NoError(t, err)
	assert.False(t, s.Has("docs", "foo"))

	_, _, err = s.Get("docs", "foo", "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByPath(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "foo", map[string]any{"nested": map[string]any{"x": 42}})
	require.NoError(t, err)

	v, _, err := s.Get("docs", "foo", "nested.x", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFindScanNoIndex(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "a", map[string]any{"status": "open"})
	require.NoError(t, err)
	_, err = s.Put("docs", "b", map[string]any{"status": "closed"})
	require.NoError(t, err)
	_, err = s.Put("docs", "c", map[string]any{"status": "open"})
	require.NoError(t, err)

	rows, err := s.Find("docs", map[string]any{"status": "open"}, nil, -1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, "c", rows[1].Key)
}

func TestFindWithIndex(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "a", map[string]any{"status": "open"})
	require.NoError(t, err)
	_, err = s.Put("docs", "b", map[string]any{"status": "closed"})
	require.NoError(t, err)

	require.NoError(t, s.CreateIndex("docs", []string{"status"}))

	_, err = s.Put("docs", "c", map[string]any{"status": "open"})
	require.NoError(t, err)

	rows, err := s.Find("docs", map[string]any{"status": "open"}, nil, -1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"a", "c"}, []string{rows[0].Key, rows[1].Key})
}

func TestFindLimit(t *testing.T) {
	s := newTestStore(t, 4)
	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Put("docs", k, map[string]any{"status": "open"})
		require.NoError(t, err)
	}
	rows, err := s.Find("docs", map[string]any{"status": "open"}, nil, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDiffBetweenVersions(t *testing.T) {
	s := newTestStore(t, 4)
	_, err := s.Put("docs", "foo", map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = s.Put("docs", "foo", map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)

	ops, err := s.Diff("docs", "foo", 1, 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
}

func TestDropIndexStopsUpdates(t *testing.T) {
	s := newTestStore(t, 4)
	require.NoError(t, s.CreateIndex("docs", []string{"status"}))
	require.NoError(t, s.DropIndex("docs", []string{"status"}))

	_, err := s.Put("docs", "a", map[string]any{"status": "open"})
	require.NoError(t, err)

	rows, err := s.Find("docs", map[string]any{"status": "open"}, nil, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 1) // falls back to scan since the index is gone
}

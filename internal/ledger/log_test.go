package ledger

import (
	"testing"

	"github.com/kaimast/credb/internal/buffer"
	"github.com/kaimast/credb/internal/ioenc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, capacity int) *Log {
	t.Helper()
	key := make([]byte, 16)
	io, err := ioenc.NewLocalIO(t.TempDir(), key)
	require.NoError(t, err)
	mgr := buffer.NewManager(io, BlockCodec{}, nil, 0)
	return NewLog(7, mgr, capacity)
}

func TestAppendIDsStrictlyIncreasing(t *testing.T) {
	log := newTestLog(t, 2)

	var ids []EventID
	for i := 0; i < 5; i++ {
		id, err := log.Append("c", "k", uint64(i+1), KindPut, []byte(`"v"`), 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		a, b := ids[i-1], ids[i]
		if a.Block == b.Block {
			assert.True(t, a.Less(b))
		} else {
			assert.Less(t, a.Block, b.Block)
		}
	}
}

func TestAppendAndLookup(t *testing.T) {
	log := newTestLog(t, 64)

	id, err := log.Append("c", "foo", 1, KindPut, []byte(`"bar"`), 42)
	require.NoError(t, err)

	entry, ok := log.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "foo", entry.Key)
	assert.Equal(t, uint64(1), entry.Version)
	assert.Equal(t, KindPut, entry.Kind)
	assert.Equal(t, uint64(42), entry.Seq)
}

func TestLookupMissing(t *testing.T) {
	log := newTestLog(t, 64)
	_, ok := log.Lookup(EventID{Shard: 7, Block: 9, Index: 0})
	assert.False(t, ok)
}

func TestLookupWrongShard(t *testing.T) {
	log := newTestLog(t, 64)
	id, err := log.Append("c", "foo", 1, KindPut, nil, 0)
	require.NoError(t, err)
	id.Shard = 99
	_, ok := log.Lookup(id)
	assert.False(t, ok)
}

func TestReplayVisitsEveryEntryInOrder(t *testing.T) {
	log := newTestLog(t, 2)

	want := []string{"a", "b", "c", "d", "e"}
	for i, key := range want {
		_, err := log.Append("c", key, uint64(i+1), KindPut, nil, 0)
		require.NoError(t, err)
	}

	var got []string
	err := log.Replay(func(e Entry) error {
		got = append(got, e.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNewLogResumesAfterRestart(t *testing.T) {
	t.Helper()
	key := make([]byte, 16)
	dir := t.TempDir()
	io, err := ioenc.NewLocalIO(dir, key)
	require.NoError(t, err)
	mgr := buffer.NewManager(io, BlockCodec{}, nil, 0)
	log := NewLog(7, mgr, 2)

	id1, err := log.Append("c", "a", 1, KindPut, nil, 0)
	require.NoError(t, err)
	_, err = log.Append("c", "b", 1, KindPut, nil, 0)
	require.NoError(t, err)
	require.NoError(t, mgr.FlushAll())

	// Simulate a restart: fresh manager and log over the same on-disk io.
	io2, err := ioenc.NewLocalIO(dir, key)
	require.NoError(t, err)
	mgr2 := buffer.NewManager(io2, BlockCodec{}, nil, 0)
	log2 := NewLog(7, mgr2, 2)

	entry, ok := log2.Lookup(id1)
	require.True(t, ok, "resumed log must still find entries from the prior run")
	assert.Equal(t, "a", entry.Key)

	id3, err := log2.Append("c", "c", 1, KindPut, nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id1.Block, id3.Block, "resumed block numbering must not collide with the prior run's block 0")

	var replayed []string
	require.NoError(t, log2.Replay(func(e Entry) error {
		replayed = append(replayed, e.Key)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, replayed)
}

func TestBlockRollover(t *testing.T) {
	log := newTestLog(t, 2)

	id1, err := log.Append("c", "a", 1, KindPut, nil, 0)
	require.NoError(t, err)
	id2, err := log.Append("c", "b", 1, KindPut, nil, 0)
	require.NoError(t, err)
	id3, err := log.Append("c", "c", 1, KindPut, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, id1.Block, id2.Block)
	assert.NotEqual(t, id2.Block, id3.Block)

	for _, id := range []EventID{id1, id2, id3} {
		_, ok := log.Lookup(id)
		assert.True(t, ok)
	}
}

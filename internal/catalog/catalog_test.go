package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutPeer(Peer{ID: "peer-1", Address: "10.0.0.1:5043", Downstream: true}))
	require.NoError(t, c.PutPeer(Peer{ID: "peer-2", Address: "10.0.0.2:5043"}))

	peers, err := c.ListPeers()
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	require.NoError(t, c.DeletePeer("peer-1"))
	peers, err = c.ListPeers()
	require.NoError(t, err)
	assert.Len(t, peers, 1)
	assert.Equal(t, "peer-2", peers[0].ID)
}

func TestIndexRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutIndex(IndexEntry{Collection: "docs", Paths: []string{"owner", "status"}}))
	entries, err := c.ListIndexes()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "docs", entries[0].Collection)
	assert.ElementsMatch(t, []string{"owner", "status"}, entries[0].Paths)

	require.NoError(t, c.DeleteIndex("docs"))
	entries, err = c.ListIndexes()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

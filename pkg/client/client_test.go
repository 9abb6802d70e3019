package client

import (
	"context"
	"net"
	"testing"

	"github.com/kaimast/credb/internal/buffer"
	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/ioenc"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/metrics"
	"github.com/kaimast/credb/internal/session"
	"github.com/kaimast/credb/internal/store"
	"github.com/kaimast/credb/internal/trigger"
	"github.com/kaimast/credb/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer listens on an ephemeral loopback port, accepts exactly one
// connection, runs the server handshake, and serves operations against a
// freshly built store/engine/catalog stack until ctx is canceled.
func startTestServer(t *testing.T) (addr string, serverIdentity *cryptoutil.Identity, cat *catalog.Catalog) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	key := make([]byte, 16)
	io, err := ioenc.NewLocalIO(t.TempDir(), key)
	require.NoError(t, err)
	s := store.NewStore(4, func(shardID uint32) *ledger.Log {
		mgr := buffer.NewManager(io, ledger.BlockCodec{}, nil, 0)
		return ledger.NewLog(shardID, mgr, 0)
	})

	id, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	engine := txn.NewEngine(s, id.Private)

	cat, err = catalog.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	h := session.NewHandler(s, engine, trigger.NewRegistry())
	h.Catalog = cat
	h.Stats = metrics.NewStats(4)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		c := session.NewConn(conn, false)
		if err := session.ServerHandshake(c, id, 1, "enclave-1"); err != nil {
			return
		}
		_ = session.Serve(ctx, c, h)
	}()

	return lis.Addr().String(), id, cat
}

func TestClientPutGetAndStatistics(t *testing.T) {
	addr, _, _ := startTestServer(t)

	clientIdentity, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)

	cl, err := Dial(addr, clientIdentity, "alice", "enclave-1")
	require.NoError(t, err)
	defer cl.Close()

	key, err := cl.Put(1, "docs", "k1", map[string]any{"v": 1}, txn.ReadCommitted)
	require.NoError(t, err)
	assert.Equal(t, "k1", key)

	result, err := cl.CommitTransaction(1, false)
	require.NoError(t, err)
	assert.True(t, result.Success)

	doc, err := cl.Get(2, "docs", "k1", "", txn.ReadCommitted)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": float64(1)}, doc)

	exists, err := cl.Has("docs", "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	stats, err := cl.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Committed)
}

func TestClientPeerRoundTrip(t *testing.T) {
	addr, _, _ := startTestServer(t)

	clientIdentity, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)

	cl, err := Dial(addr, clientIdentity, "alice", "enclave-1")
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.AddPeer(catalog.Peer{ID: "peer-1", Address: "peer-1:5043", Downstream: true}))

	peers, err := cl.ListPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].ID)

	require.NoError(t, cl.RemovePeer("peer-1"))
	peers, err = cl.ListPeers()
	require.NoError(t, err)
	assert.Empty(t, peers)
}

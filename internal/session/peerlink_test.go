package session

import (
	"sync"
	"testing"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerLinkSendRecv(t *testing.T) {
	upstreamConn, downstreamConn := newConnPair()

	upstreamIdentity, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)
	downstreamIdentity, err := cryptoutil.GenerateIdentity()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var upErr, downErr error
	go func() {
		defer wg.Done()
		upErr = ServerHandshake(upstreamConn, upstreamIdentity, 1, "upstream")
	}()
	go func() {
		defer wg.Done()
		downErr = ClientHandshake(downstreamConn, downstreamIdentity, "downstream", "upstream")
	}()
	wg.Wait()
	require.NoError(t, upErr)
	require.NoError(t, downErr)

	up := NewPeerLink(upstreamConn)
	down := NewPeerLink(downstreamConn)
	defer up.Close()
	defer down.Close()

	entries := []ledger.Entry{{Key: "k1", Version: 1}}

	done := make(chan struct{})
	var received []ledger.Entry
	var recvErr error
	go func() {
		received, recvErr = down.Recv()
		close(done)
	}()

	require.NoError(t, up.Send(entries))
	<-done
	require.NoError(t, recvErr)
	assert.Equal(t, entries, received)
}

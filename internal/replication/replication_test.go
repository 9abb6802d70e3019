package replication

import (
	"context"
	"errors"
	"testing"

	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   [][]ledger.Entry
	closed bool
	failOn int
	calls  int
}

func (f *fakeSender) Send(ctx context.Context, entries []ledger.Entry) error {
	f.calls++
	if f.failOn > 0 && f.calls >= f.failOn {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, entries)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func TestForwarderSendsToDownstreamPeersOnly(t *testing.T) {
	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.PutPeer(catalog.Peer{ID: "down", Address: "down:5043", Downstream: true}))
	require.NoError(t, cat.PutPeer(catalog.Peer{ID: "up", Address: "up:5043", Downstream: false}))

	sent := &fakeSender{}
	dialed := map[string]bool{}
	f := NewForwarder(cat, func(addr string) (Sender, error) {
		dialed[addr] = true
		return sent, nil
	})

	f.Notify(context.Background(), []ledger.Entry{{Key: "k1"}})
	assert.True(t, dialed["down:5043"])
	assert.False(t, dialed["up:5043"])
	assert.Len(t, sent.sent, 1)
}

func TestForwarderDropsConnectionOnSendFailure(t *testing.T) {
	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.PutPeer(catalog.Peer{ID: "down", Address: "down:5043", Downstream: true}))

	first := &fakeSender{failOn: 1}
	second := &fakeSender{}
	dialCount := 0
	f := NewForwarder(cat, func(addr string) (Sender, error) {
		dialCount++
		if dialCount == 1 {
			return first, nil
		}
		return second, nil
	})

	f.Notify(context.Background(), []ledger.Entry{{Key: "k1"}})
	assert.True(t, first.closed)

	f.Notify(context.Background(), []ledger.Entry{{Key: "k2"}})
	assert.Equal(t, 2, dialCount)
	assert.Len(t, second.sent, 1)
}

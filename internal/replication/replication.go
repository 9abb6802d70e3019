// Package replication forwards commit notifications to downstream peers
// and tracks which peers are registered, per spec §4.F/§9's
// downstream-replica hand-off. It deliberately does not implement a
// replication protocol of its own wire shape: peers are reached through
// whatever Sender the embedding process supplies (in production, a
// session.PeerLink dialed to the peer's peer port, see cmd/credb-server).
package replication

import (
	"context"
	"sync"

	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/logx"
)

// Sender pushes committed entries to one downstream peer.
type Sender interface {
	Send(ctx context.Context, entries []ledger.Entry) error
	Close() error
}

// Dialer opens a Sender for a peer's address.
type Dialer func(address string) (Sender, error)

// Forwarder tracks downstream peers (backed by internal/catalog) and
// fans committed entries out to each of them. Connections are dialed
// lazily and cached; a peer that fails to dial or send is logged and
// skipped rather than blocking the rest of the fan-out, mirroring
// internal/trigger's non-blocking-subscriber design.
type Forwarder struct {
	catalog *catalog.Catalog
	dial    Dialer

	mu      sync.Mutex
	senders map[string]Sender
}

// NewForwarder creates a Forwarder over cat's peer registry, dialing new
// connections with dial.
func NewForwarder(cat *catalog.Catalog, dial Dialer) *Forwarder {
	return &Forwarder{catalog: cat, dial: dial, senders: make(map[string]Sender)}
}

// Notify pushes entries to every registered downstream peer.
func (f *Forwarder) Notify(ctx context.Context, entries []ledger.Entry) {
	if len(entries) == 0 {
		return
	}
	peers, err := f.catalog.ListPeers()
	if err != nil {
		logx.Errorf("replication: failed to list peers", err)
		return
	}
	for _, p := range peers {
		if !p.Downstream {
			continue
		}
		sender, err := f.senderFor(p)
		if err != nil {
			logx.Errorf("replication: failed to dial peer "+p.ID, err)
			continue
		}
		if err := sender.Send(ctx, entries); err != nil {
			logx.Errorf("replication: failed to forward to peer "+p.ID, err)
			f.forget(p.ID)
		}
	}
}

func (f *Forwarder) senderFor(p catalog.Peer) (Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.senders[p.ID]; ok {
		return s, nil
	}
	s, err := f.dial(p.Address)
	if err != nil {
		return nil, err
	}
	f.senders[p.ID] = s
	return s, nil
}

func (f *Forwarder) forget(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.senders[peerID]; ok {
		_ = s.Close()
		delete(f.senders, peerID)
	}
}

// Close releases every cached connection.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.senders {
		_ = s.Close()
		delete(f.senders, id)
	}
}

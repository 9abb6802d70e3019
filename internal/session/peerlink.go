package session

import (
	"fmt"

	"github.com/kaimast/credb/internal/ledger"
	"github.com/kaimast/credb/internal/wire"
)

// PeerLink is an attested connection to a downstream replica used only to
// forward committed entries (spec §9): no TaskID/OpID correlation, just a
// one-directional stream of Replicate batches.
type PeerLink struct {
	conn *Conn
}

// NewPeerLink wraps an already-handshaken Conn as a replication link.
func NewPeerLink(conn *Conn) *PeerLink {
	return &PeerLink{conn: conn}
}

// Send forwards entries to the peer at the other end of the link.
func (p *PeerLink) Send(entries []ledger.Entry) error {
	return p.conn.writeFrame(wire.TagEncrypted, wire.EncodeReplicate(wire.Replicate{Entries: entries}))
}

// Recv blocks for the next Replicate batch the peer sends.
func (p *PeerLink) Recv() ([]ledger.Entry, error) {
	for {
		msgType, payload, err := p.conn.readFrame()
		if err != nil {
			return nil, err
		}
		if msgType != wire.MsgReplicate {
			continue
		}
		r, err := wire.DecodeReplicate(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode replication batch: %w", err)
		}
		return r.Entries, nil
	}
}

// Close closes the underlying connection.
func (p *PeerLink) Close() error {
	return p.conn.Close()
}

// Package session implements the attested connection state machine and
// operation dispatch of spec §4.F: the four-message SIGMA-style handshake,
// the encrypted/plaintext operation envelope, and routing decoded
// operations to a Handler built from internal/store, internal/ledger, and
// internal/txn. It is grounded on the teacher's pkg/api connection-handling
// shape (now that grpc/mTLS have been replaced by the spec's own framing —
// see DESIGN.md) and on original_source/src/ledger for the key-derivation
// and quote-binding invariants the handshake must preserve.
package session

// State is a connection's position in the attested handshake, per spec
// §4.F. Failure is reachable from any state.
type State int

const (
	WaitingForGroupID State = iota
	WaitingForMsg1
	WaitingForMsg3
	Connected
	Closed
	Failure
)

func (s State) String() string {
	switch s {
	case WaitingForGroupID:
		return "waiting-for-group-id"
	case WaitingForMsg1:
		return "waiting-for-msg1"
	case WaitingForMsg3:
		return "waiting-for-msg3"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

package session

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kaimast/credb/internal/cryptoutil"
	"github.com/kaimast/credb/internal/wire"
)

// Conn is one attested connection: the handshake state machine, the
// session keys it derives, and the pending-response bookkeeping for
// operations this side initiated. One mutex guards both the
// pending-response map and socket writes, per spec §5.
type Conn struct {
	rw io.ReadWriteCloser

	mu      sync.Mutex
	pending map[uint32]chan wire.OperationResponse
	closed  bool

	state  State
	unsafe bool
	keys   *cryptoutil.SessionKeys

	nextOpID atomic.Uint32
}

// NewConn wraps rw in a fresh, unauthenticated connection. unsafe disables
// encryption and key derivation entirely — a deployment-time flag per spec
// §4.F, never negotiated per-request.
func NewConn(rw io.ReadWriteCloser, unsafe bool) *Conn {
	return &Conn{
		rw:      rw,
		pending: make(map[uint32]chan wire.OperationResponse),
		state:   WaitingForGroupID,
		unsafe:  unsafe,
	}
}

// State returns the connection's current handshake state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// fail transitions the connection to Failure, closes the underlying
// transport, and returns err wrapped with a handshake-failure prefix.
func (c *Conn) fail(err error) error {
	c.setState(Failure)
	_ = c.rw.Close()
	return fmt.Errorf("session failed in handshake: %w", err)
}

// Close transitions the connection to Closed, wakes every pending
// operation with a connection-closed error, and closes the underlying
// transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = Closed
	c.closed = true
	for opID, ch := range c.pending {
		ch <- wire.OperationResponse{OpID: opID, Body: wire.ErrResponse(wire.NewError(wire.KindProtocol, "connection closed"))}
		delete(c.pending, opID)
	}
	c.mu.Unlock()
	return c.rw.Close()
}

// writeFrame seals (unless unsafe or tag requires plaintext) and writes one
// frame. fullBody is a msg_type byte followed by that message's encoding,
// exactly what the wire package's EncodeXxx helpers return.
func (c *Conn) writeFrame(tag wire.EncTag, fullBody []byte) error {
	var body []byte
	if tag == wire.TagEncrypted && !c.unsafe {
		encrypted, err := wire.EncodeEncrypted(c.keys.SK[:], fullBody)
		if err != nil {
			return fmt.Errorf("failed to seal frame: %w", err)
		}
		body = encrypted
	} else {
		effectiveTag := tag
		if tag == wire.TagEncrypted && c.unsafe {
			effectiveTag = wire.TagPlaintext
		}
		body = wire.EncodePlain(effectiveTag, wire.MsgType(fullBody[0]), fullBody[1:])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.rw, body)
}

// readFrame reads one frame and returns its message type and payload,
// decrypting if the frame carries TagEncrypted and the connection is not
// in unsafe mode.
func (c *Conn) readFrame() (wire.MsgType, []byte, error) {
	body, err := wire.ReadFrame(c.rw)
	if err != nil {
		return 0, nil, err
	}

	if len(body) < 1 {
		return 0, nil, wire.NewError(wire.KindProtocol, "empty frame")
	}
	if wire.EncTag(body[0]) == wire.TagEncrypted && !c.unsafe {
		if c.keys == nil {
			return 0, nil, wire.NewError(wire.KindProtocol, "encrypted frame before key derivation")
		}
		plain, err := wire.DecodeEncrypted(c.keys.SK[:], body)
		if err != nil {
			return 0, nil, err
		}
		if len(plain) < 1 {
			return 0, nil, wire.NewError(wire.KindProtocol, "empty decrypted payload")
		}
		return wire.MsgType(plain[0]), plain[1:], nil
	}

	_, msgType, payload, err := wire.DecodePlain(body)
	return msgType, payload, err
}

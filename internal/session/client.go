package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaimast/credb/internal/wire"
)

// Client drives the client side of an already-Connected Conn: it assigns
// op ids, correlates OperationResponse frames back to their caller via
// Conn's pending map, and forwards MsgNotifyTrigger frames to Triggers.
// One background goroutine owns all reads off the connection, matching
// the single-reader discipline spec §5 requires.
type Client struct {
	conn *Conn

	// Triggers, if non-nil, receives every collection name pushed by a
	// server-side trigger notification. The channel is never closed by
	// Client; callers stop reading from it once they're done with the
	// connection.
	Triggers chan string
}

// NewClient starts a read loop over an already-handshaken conn and
// returns a Client ready to issue Call.
func NewClient(conn *Conn) *Client {
	c := &Client{conn: conn, Triggers: make(chan string, 64)}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		msgType, payload, err := c.conn.readFrame()
		if err != nil {
			c.drainPending(err)
			return
		}
		switch msgType {
		case wire.MsgOperationResponse:
			resp, err := wire.DecodeOperationResponse(payload)
			if err != nil {
				continue
			}
			c.conn.mu.Lock()
			ch, ok := c.conn.pending[resp.OpID]
			if ok {
				delete(c.conn.pending, resp.OpID)
			}
			c.conn.mu.Unlock()
			if ok {
				ch <- resp
			}
		case wire.MsgNotifyTrigger:
			n, err := wire.DecodeNotifyTrigger(payload)
			if err != nil {
				continue
			}
			select {
			case c.Triggers <- n.Collection:
			default:
			}
		}
	}
}

func (c *Client) drainPending(err error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	body := wire.ErrResponse(wire.NewError(wire.KindProtocol, "connection lost: %v", err))
	for opID, ch := range c.conn.pending {
		ch <- wire.OperationResponse{OpID: opID, Body: body}
		delete(c.conn.pending, opID)
	}
}

// Call issues one operation against taskID and blocks for its response,
// marshaling args as the request body and unmarshaling the result into result (which
// may be nil if the caller doesn't need the payload).
func (c *Client) Call(ctx context.Context, taskID uint32, opType wire.OpCode, args, result any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}

	opID := c.conn.nextOpID.Add(1)
	ch := make(chan wire.OperationResponse, 1)
	c.conn.mu.Lock()
	if c.conn.closed {
		c.conn.mu.Unlock()
		return wire.NewError(wire.KindProtocol, "connection closed")
	}
	c.conn.pending[opID] = ch
	c.conn.mu.Unlock()

	req := wire.OperationRequest{TaskID: taskID, OpID: opID, OpType: opType, Args: raw}
	if err := c.conn.writeFrame(wire.TagEncrypted, wire.EncodeOperationRequest(req)); err != nil {
		c.conn.mu.Lock()
		delete(c.conn.pending, opID)
		c.conn.mu.Unlock()
		return err
	}

	select {
	case resp := <-ch:
		var body wire.ResponseBody
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if !body.OK {
			return wire.NewError(body.Kind, "%s", body.Error)
		}
		if result == nil || len(body.Result) == 0 {
			return nil
		}
		return json.Unmarshal(body.Result, result)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

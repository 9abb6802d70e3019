package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kaimast/credb/internal/ledger"
)

// OperationRequest is one client-to-server operation call, correlated by
// (TaskID, OpID) so a client may have many outstanding at once (spec §4.F,
// §5).
type OperationRequest struct {
	TaskID uint32
	OpID   uint32
	OpType OpCode
	Args   json.RawMessage
}

// EncodeOperationRequest serializes r as a MsgOperationRequest payload:
// msg_type, task_id, op_id, op_type, then the JSON-encoded args. A JSON
// body (rather than a bespoke binary layout per op) keeps one args format
// for every operation code, matching how loosely-typed document values
// already flow through the rest of this system.
func EncodeOperationRequest(r OperationRequest) []byte {
	out := make([]byte, 0, 10+len(r.Args))
	out = append(out, byte(MsgOperationRequest))
	out = appendU32(out, r.TaskID)
	out = appendU32(out, r.OpID)
	out = append(out, byte(r.OpType))
	out = append(out, r.Args...)
	return out
}

// DecodeOperationRequest reverses EncodeOperationRequest. payload must not
// include the msg_type byte.
func DecodeOperationRequest(payload []byte) (OperationRequest, error) {
	if len(payload) < 9 {
		return OperationRequest{}, NewError(KindProtocol, "operation request truncated")
	}
	return OperationRequest{
		TaskID: binary.LittleEndian.Uint32(payload[0:4]),
		OpID:   binary.LittleEndian.Uint32(payload[4:8]),
		OpType: OpCode(payload[8]),
		Args:   append(json.RawMessage{}, payload[9:]...),
	}, nil
}

// OperationResponse is one server-to-client result, matched to its request
// by (TaskID, OpID).
type OperationResponse struct {
	TaskID uint32
	OpID   uint32
	Body   json.RawMessage
}

// EncodeOperationResponse serializes resp as a MsgOperationResponse payload.
func EncodeOperationResponse(resp OperationResponse) []byte {
	out := make([]byte, 0, 9+len(resp.Body))
	out = append(out, byte(MsgOperationResponse))
	out = appendU32(out, resp.TaskID)
	out = appendU32(out, resp.OpID)
	out = append(out, resp.Body...)
	return out
}

// DecodeOperationResponse reverses EncodeOperationResponse. payload must not
// include the msg_type byte.
func DecodeOperationResponse(payload []byte) (OperationResponse, error) {
	if len(payload) < 8 {
		return OperationResponse{}, NewError(KindProtocol, "operation response truncated")
	}
	return OperationResponse{
		TaskID: binary.LittleEndian.Uint32(payload[0:4]),
		OpID:   binary.LittleEndian.Uint32(payload[4:8]),
		Body:   append(json.RawMessage{}, payload[8:]...),
	}, nil
}

// ResponseBody is the envelope every OperationResponse.Body decodes into:
// either a result or a structured error, mirroring internal/txn's
// {success, error} shape generalized to all operations.
type ResponseBody struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Kind   ErrorKind       `json:"kind,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// OKResponse marshals a successful result into a ResponseBody.
func OKResponse(result any) json.RawMessage {
	raw, err := json.Marshal(result)
	if err != nil {
		return ErrResponse(NewError(KindProtocol, "failed to encode result: %v", err))
	}
	body, _ := json.Marshal(ResponseBody{OK: true, Result: raw})
	return body
}

// ErrResponse marshals err into a ResponseBody.
func ErrResponse(err *Error) json.RawMessage {
	body, _ := json.Marshal(ResponseBody{OK: false, Error: err.Message, Kind: err.Kind})
	return body
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

// NotifyTrigger is the server-pushed notification payload for a committed
// write to collection. It carries no correlation id (spec §4.F).
type NotifyTrigger struct {
	Collection string `json:"collection"`
}

// EncodeNotifyTrigger serializes n as a MsgNotifyTrigger payload.
func EncodeNotifyTrigger(n NotifyTrigger) []byte {
	raw, _ := json.Marshal(n)
	out := make([]byte, 0, 1+len(raw))
	out = append(out, byte(MsgNotifyTrigger))
	return append(out, raw...)
}

// DecodeNotifyTrigger reverses EncodeNotifyTrigger. payload must not
// include the msg_type byte.
func DecodeNotifyTrigger(payload []byte) (NotifyTrigger, error) {
	var n NotifyTrigger
	if err := json.Unmarshal(payload, &n); err != nil {
		return NotifyTrigger{}, fmt.Errorf("failed to decode trigger notification: %w", err)
	}
	return n, nil
}

// Replicate carries a batch of committed log entries from an upstream
// enclave to a downstream peer (spec §9). It has no correlation id: the
// receiving peer applies or rejects the whole batch and does not reply.
type Replicate struct {
	Entries []ledger.Entry `json:"entries"`
}

// EncodeReplicate serializes r as a MsgReplicate payload.
func EncodeReplicate(r Replicate) []byte {
	raw, _ := json.Marshal(r)
	out := make([]byte, 0, 1+len(raw))
	out = append(out, byte(MsgReplicate))
	return append(out, raw...)
}

// DecodeReplicate reverses EncodeReplicate. payload must not include the
// msg_type byte.
func DecodeReplicate(payload []byte) (Replicate, error) {
	var r Replicate
	if err := json.Unmarshal(payload, &r); err != nil {
		return Replicate{}, fmt.Errorf("failed to decode replication batch: %w", err)
	}
	return r, nil
}

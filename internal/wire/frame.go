package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncTag is the one-byte encryption tag prefixing every frame body.
type EncTag uint8

const (
	TagAttestation EncTag = iota
	TagEncrypted
	TagPlaintext
)

// MsgType discriminates the payload carried by a plaintext or decrypted
// frame body.
type MsgType uint8

const (
	MsgTellGroupID MsgType = iota
	MsgGroupIDResponse
	MsgAttestation1
	MsgAttestation2
	MsgAttestation3
	MsgAttestationResult
	MsgOperationRequest
	MsgOperationResponse
	MsgNotifyTrigger
	MsgReplicate
)

// MaxFrameBody caps a single frame's body to guard against a malformed or
// hostile length prefix forcing an unbounded allocation.
const MaxFrameBody = 64 << 20

// ReadFrame reads one `len:u32 body` frame per spec §6's little-endian,
// length-prefixed grammar.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameBody {
		return nil, NewError(KindProtocol, "frame body too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as a `len:u32 body` frame.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// EncodePlain builds a plaintext/attestation frame body: enc_tag, msg_type,
// then payload.
func EncodePlain(tag EncTag, msgType MsgType, payload []byte) []byte {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, byte(tag), byte(msgType))
	body = append(body, payload...)
	return body
}

// DecodePlain splits a plaintext/attestation frame body back into its tag,
// message type, and payload.
func DecodePlain(body []byte) (EncTag, MsgType, []byte, error) {
	if len(body) < 2 {
		return 0, 0, nil, NewError(KindProtocol, "frame body shorter than header")
	}
	return EncTag(body[0]), MsgType(body[1]), body[2:], nil
}

// EncodeEncrypted seals payload (which must itself begin with a msg_type
// byte) under key and wraps it as `enc_tag‖payload_len:u32‖ciphertext‖tag[16]`.
func EncodeEncrypted(key, payload []byte) ([]byte, error) {
	sealed, err := sealTagSuffix(key, payload)
	if err != nil {
		return nil, err
	}
	body := make([]byte, 0, 5+len(sealed))
	body = append(body, byte(TagEncrypted))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(sealed)-16))
	body = append(body, lenBuf[:]...)
	body = append(body, sealed...)
	return body, nil
}

// DecodeEncrypted reverses EncodeEncrypted, returning the decrypted payload
// (msg_type byte plus message body).
func DecodeEncrypted(key, body []byte) ([]byte, error) {
	if len(body) < 1 || EncTag(body[0]) != TagEncrypted {
		return nil, NewError(KindProtocol, "frame is not an encrypted_payload")
	}
	rest := body[1:]
	if len(rest) < 4 {
		return nil, NewError(KindProtocol, "encrypted frame missing payload_len")
	}
	payloadLen := binary.LittleEndian.Uint32(rest[:4])
	sealed := rest[4:]
	if uint32(len(sealed)) != payloadLen+16 {
		return nil, NewError(KindProtocol, "encrypted frame length mismatch")
	}
	plaintext, err := openTagSuffix(key, sealed)
	if err != nil {
		return nil, NewError(KindIntegrity, "encrypted frame failed authentication")
	}
	return plaintext, nil
}

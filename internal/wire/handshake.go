package wire

import (
	"encoding/json"
	"fmt"
)

// TellGroupID is the server's opening handshake message (spec §4.F step 1).
type TellGroupID struct {
	GroupID        uint32 `json:"group_id"`
	ServerName     string `json:"server_name"`
	ServerPubkey   []byte `json:"server_pubkey"`
	DownstreamFlag bool   `json:"downstream_flag"`
	UpstreamPubkey []byte `json:"upstream_pubkey,omitempty"`
}

// GroupIDResponse is the client's reply (spec §4.F step 2).
type GroupIDResponse struct {
	OK         bool   `json:"ok"`
	ClientName string `json:"client_name"`
	ClientPubkey []byte `json:"client_pubkey"`
}

// Attestation1 opens the SIGMA-style key exchange: the client's ephemeral
// ECDH share.
type Attestation1 struct {
	GA []byte `json:"g_a"`
}

// Attestation2 carries the server's ephemeral DH share and a signature
// binding it to the client's share, plus a CMAC-SMK over the message
// prefix.
type Attestation2 struct {
	GB        []byte `json:"g_b"`
	Signature []byte `json:"signature"` // ECDSA over (g_b || g_a)
	CMAC      []byte `json:"cmac"`      // CMAC-SMK over g_b||signature
}

// Attestation3 closes the key exchange with a quote whose report-data is
// SHA-256(g_a‖g_b‖VK); g_a was already sent in Attestation1 and is not
// repeated here.
type Attestation3 struct {
	Quote []byte `json:"quote"`
}

// AttestationResult closes the handshake (spec §4.F step 4).
type AttestationResult struct {
	Status        bool   `json:"status"`
	PlatformInfo  []byte `json:"platform_info"`
	MAC           []byte `json:"mac"` // mac_MK(platform_info)
	FailureReason string `json:"failure_reason,omitempty"`
}

func encodeJSON(msgType MsgType, v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte("{}")
	}
	out := make([]byte, 0, 1+len(raw))
	out = append(out, byte(msgType))
	return append(out, raw...)
}

func decodeJSON(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode handshake message: %w", err)
	}
	return nil
}

func EncodeTellGroupID(m TellGroupID) []byte        { return encodeJSON(MsgTellGroupID, m) }
func EncodeGroupIDResponse(m GroupIDResponse) []byte { return encodeJSON(MsgGroupIDResponse, m) }
func EncodeAttestation1(m Attestation1) []byte       { return encodeJSON(MsgAttestation1, m) }
func EncodeAttestation2(m Attestation2) []byte       { return encodeJSON(MsgAttestation2, m) }
func EncodeAttestation3(m Attestation3) []byte       { return encodeJSON(MsgAttestation3, m) }
func EncodeAttestationResult(m AttestationResult) []byte {
	return encodeJSON(MsgAttestationResult, m)
}

func DecodeTellGroupID(payload []byte) (TellGroupID, error) {
	var m TellGroupID
	err := decodeJSON(payload, &m)
	return m, err
}

func DecodeGroupIDResponse(payload []byte) (GroupIDResponse, error) {
	var m GroupIDResponse
	err := decodeJSON(payload, &m)
	return m, err
}

func DecodeAttestation1(payload []byte) (Attestation1, error) {
	var m Attestation1
	err := decodeJSON(payload, &m)
	return m, err
}

func DecodeAttestation2(payload []byte) (Attestation2, error) {
	var m Attestation2
	err := decodeJSON(payload, &m)
	return m, err
}

func DecodeAttestation3(payload []byte) (Attestation3, error) {
	var m Attestation3
	err := decodeJSON(payload, &m)
	return m, err
}

func DecodeAttestationResult(payload []byte) (AttestationResult, error) {
	var m AttestationResult
	err := decodeJSON(payload, &m)
	return m, err
}

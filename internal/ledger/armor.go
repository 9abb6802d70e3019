package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	armorHeader = "-----BEGIN CREDB WITNESS-----"
	armorFooter = "-----END CREDB WITNESS-----"
	armorWidth  = 64
)

// Armor renders a witness in the on-disk ASCII armor format: a header line,
// base64(payload‖signature) wrapped at 64 columns, and a footer line,
// reproducing original_source/src/ledger/Witness.cpp's Witness::armor().
// The payload length is length-prefixed inside the encoded blob so Parse
// can split payload from signature unambiguously.
func Armor(w *Witness) []byte {
	var blob bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(w.Payload)))
	blob.Write(lenBuf[:])
	blob.Write(w.Payload)
	blob.Write(w.Signature)

	encoded := base64.StdEncoding.EncodeToString(blob.Bytes())

	var out bytes.Buffer
	out.WriteString(armorHeader)
	out.WriteByte('\n')
	for i := 0; i < len(encoded); i += armorWidth {
		end := i + armorWidth
		if end > len(encoded) {
			end = len(encoded)
		}
		out.WriteString(encoded[i:end])
		out.WriteByte('\n')
	}
	out.WriteString(armorFooter)
	out.WriteByte('\n')
	return out.Bytes()
}

// Parse reverses Armor, reconstructing the Witness from its armored text.
func Parse(armored []byte) (*Witness, error) {
	lines := bytes.Split(bytes.TrimSpace(armored), []byte("\n"))
	if len(lines) < 3 {
		return nil, fmt.Errorf("witness armor: too few lines")
	}
	if string(bytes.TrimSpace(lines[0])) != armorHeader {
		return nil, fmt.Errorf("witness armor: missing header")
	}
	if string(bytes.TrimSpace(lines[len(lines)-1])) != armorFooter {
		return nil, fmt.Errorf("witness armor: missing footer")
	}

	var body bytes.Buffer
	for _, line := range lines[1 : len(lines)-1] {
		body.Write(bytes.TrimSpace(line))
	}

	blob, err := base64.StdEncoding.DecodeString(body.String())
	if err != nil {
		return nil, fmt.Errorf("witness armor: invalid base64: %w", err)
	}
	if len(blob) < 4 {
		return nil, fmt.Errorf("witness armor: truncated payload length")
	}

	payloadLen := binary.LittleEndian.Uint32(blob[:4])
	rest := blob[4:]
	if uint32(len(rest)) < payloadLen {
		return nil, fmt.Errorf("witness armor: truncated payload")
	}

	return &Witness{
		Payload:   rest[:payloadLen],
		Signature: rest[payloadLen:],
	}, nil
}

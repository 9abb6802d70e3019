package ledger

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/kaimast/credb/internal/cryptoutil"
)

// WitnessOp is one covered event inside a witness document, as specified in
// spec §4.D's `{ops: [{shard, block, index, key, version, op, document?}…]}`.
type WitnessOp struct {
	Shard    uint32          `json:"shard"`
	Block    uint32          `json:"block"`
	Index    uint32          `json:"index"`
	Key      string          `json:"key"`
	Version  uint64          `json:"version"`
	Op       string          `json:"op"`
	Document json.RawMessage `json:"document,omitempty"`
}

// WitnessDoc is the canonical, signed body of a witness.
type WitnessDoc struct {
	Ops []WitnessOp `json:"ops"`
}

// Witness pairs the canonical JSON payload with its ECDSA-P256 signature.
// It is valid relative to a public key iff the signature verifies over
// Payload.
type Witness struct {
	Payload   []byte
	Signature []byte
}

// OpsFromEntries builds the witness ops for a set of covered log entries.
func OpsFromEntries(entries []Entry) []WitnessOp {
	ops := make([]WitnessOp, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, WitnessOp{
			Shard:    e.ID.Shard,
			Block:    e.ID.Block,
			Index:    e.ID.Index,
			Key:      e.Key,
			Version:  e.Version,
			Op:       e.Kind.String(),
			Document: json.RawMessage(e.Document),
		})
	}
	return ops
}

// Sign assembles a canonical witness document over entries and signs it
// with the enclave's ECDSA-P256 identity.
func Sign(priv *ecdsa.PrivateKey, entries []Entry) (*Witness, error) {
	doc := WitnessDoc{Ops: OpsFromEntries(entries)}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal witness document: %w", err)
	}
	sig, err := cryptoutil.Sign(priv, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign witness: %w", err)
	}
	return &Witness{Payload: payload, Signature: sig}, nil
}

// Verify reports whether w's signature verifies under pub.
func Verify(pub *ecdsa.PublicKey, w *Witness) bool {
	return cryptoutil.Verify(pub, w.Payload, w.Signature)
}

// Decode parses a witness document's payload back into its ops, for callers
// that want to inspect what a witness covers.
func (w *Witness) Decode() (WitnessDoc, error) {
	var doc WitnessDoc
	if err := json.Unmarshal(w.Payload, &doc); err != nil {
		return WitnessDoc{}, fmt.Errorf("failed to unmarshal witness document: %w", err)
	}
	return doc, nil
}

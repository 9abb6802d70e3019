package cryptoutil

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// EphemeralKeyPair is one side's Diffie-Hellman contribution to the
// handshake (g_a or g_b in the specification's naming).
type EphemeralKeyPair struct {
	private *ecdh.PrivateKey
	Public  []byte
}

// NewEphemeralKeyPair generates a fresh P256 ECDH keypair.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return &EphemeralKeyPair{private: priv, Public: priv.PublicKey().Bytes()}, nil
}

// SharedSecret computes the ECDH shared secret with the peer's public point.
func (kp *EphemeralKeyPair) SharedSecret(peerPublic []byte) ([]byte, error) {
	peerKey, err := ecdh.P256().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid peer ephemeral key: %w", err)
	}
	secret, err := kp.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	return secret, nil
}

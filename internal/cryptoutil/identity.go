// Package cryptoutil implements the cryptographic primitives shared by the
// encrypted block I/O layer, the ledger's witness signatures, and the
// attested session handshake: ECDSA-P256 identities, ECDH key agreement, an
// AES-CMAC based key derivation function, and fixed-IV AES-GCM-128 sealing.
package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is a long-lived ECDSA-P256 keypair used to sign witnesses (the
// server's identity) or to authenticate a handshake (a client's identity).
type Identity struct {
	Private *ecdsa.PrivateKey
}

// GenerateIdentity creates a fresh P256 keypair.
func GenerateIdentity() (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return &Identity{Private: key}, nil
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() *ecdsa.PublicKey {
	return &id.Private.PublicKey
}

// SaveIdentityFile writes the identity's private key as a PEM-encoded file,
// matching the `<client_name>.identity` / server identity keypair file
// layout of the persistent-state section of the specification.
func SaveIdentityFile(path string, id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(id.Private)
	if err != nil {
		return fmt.Errorf("failed to marshal identity key: %w", err)
	}

	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// LoadIdentityFile reads a PEM-encoded identity private key.
func LoadIdentityFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode identity PEM")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity key: %w", err)
	}
	return &Identity{Private: key}, nil
}

// IdentityExists reports whether an identity file is present at path.
func IdentityExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SavePublicKeyFile writes pub as a PEM-encoded PKIX public key, the format
// a witness verifier that doesn't hold the private key loads instead of a
// full identity file.
func SavePublicKeyFile(path string, pub *ecdsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create public key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0644); err != nil {
		return fmt.Errorf("failed to write public key file: %w", err)
	}
	return nil
}

// LoadPublicKeyFile reads a PEM-encoded PKIX public key.
func LoadPublicKeyFile(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecPub, nil
}

// EncodePublicKey serializes a public key to the uncompressed SEC1 point
// format used on the wire in TellGroupId / GroupIdResponse.
func EncodePublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
}

// DecodePublicKey parses an uncompressed SEC1 point on the P256 curve.
func DecodePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, data)
	if x == nil {
		return nil, fmt.Errorf("invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

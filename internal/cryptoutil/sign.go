package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Sign produces an ECDSA-P256 signature over SHA-256(data), used by the
// ledger to sign witness documents (original_source/src/ledger/Witness.cpp
// calls sgx_ecdsa_verify against a raw SGX ECDSA signature; Go's
// crypto/ecdsa.SignASN1 is the idiomatic standard-library equivalent).
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Verify checks an ECDSA-P256 signature over SHA-256(data).
func Verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

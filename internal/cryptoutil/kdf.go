package cryptoutil

import "fmt"

// SessionKeys holds the four 128-bit keys derived from the ECDH shared
// secret during the attested handshake (spec §4.F): SMK authenticates the
// handshake messages themselves, MK authenticates the platform_info in the
// final AttestationResult, SK encrypts the operation envelope once
// Connected, and VK binds the quote's report data to this specific session.
type SessionKeys struct {
	SMK [16]byte
	MK  [16]byte
	SK  [16]byte
	VK  [16]byte
}

// DeriveSessionKeys runs the AES-CMAC based KDF over the ECDH shared secret,
// producing one independent 128-bit key per label. This mirrors the SIGMA
// key schedule referenced in the specification (an AES-CMAC entropy
// extraction and key expansion step, SAMPLE_AES_CMAC_KDF_ID in the original
// implementation) using a zero key to extract a master secret and a labelled
// CMAC expansion per derived key, the standard two-step extract-and-expand
// shape for a CMAC-based KDF.
func DeriveSessionKeys(sharedSecret []byte) (*SessionKeys, error) {
	zeroKey := make([]byte, 16)
	master, err := cmac(zeroKey, sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to extract master secret: %w", err)
	}

	keys := &SessionKeys{}
	for _, f := range []struct {
		label string
		out   *[16]byte
	}{
		{"SMK", &keys.SMK},
		{"MK", &keys.MK},
		{"SK", &keys.SK},
		{"VK", &keys.VK},
	} {
		derived, err := cmac(master, append([]byte(f.label), 0x01))
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", f.label, err)
		}
		copy(f.out[:], derived)
	}

	return keys, nil
}

// CMACTag computes a raw AES-CMAC over msg under key, used to authenticate
// msg2's prefix with SMK and the attestation result's platform info with MK.
func CMACTag(key, msg []byte) ([]byte, error) {
	return cmac(key, msg)
}

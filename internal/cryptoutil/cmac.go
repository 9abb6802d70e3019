package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
)

const blockSize = aes.BlockSize // 16

// cmac computes the AES-CMAC (RFC 4493) of msg under key. The corpus carries
// no third-party CMAC implementation (it is not a dependency of any example
// repo), so this is built directly on crypto/aes's block cipher primitive,
// which is the standard way to construct CMAC in Go.
func cmac(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	k1, k2 := subkeys(block)

	n := (len(msg) + blockSize - 1) / blockSize
	var lastComplete bool
	if n == 0 {
		n = 1
		lastComplete = false
	} else {
		lastComplete = len(msg)%blockSize == 0
	}

	mLast := make([]byte, blockSize)
	start := (n - 1) * blockSize
	if lastComplete {
		copy(mLast, msg[start:])
		xorInto(mLast, k1)
	} else {
		tail := msg[start:]
		copy(mLast, tail)
		mLast[len(tail)] = 0x80
		xorInto(mLast, k2)
	}

	mac := make([]byte, blockSize)
	for i := 0; i < n-1; i++ {
		block.Encrypt(mac, xor(mac, msg[i*blockSize:(i+1)*blockSize]))
	}
	block.Encrypt(mac, xor(mac, mLast))

	return mac, nil
}

func subkeys(block cipher.Block) (k1, k2 []byte) {
	zero := make([]byte, blockSize)
	l := make([]byte, blockSize)
	block.Encrypt(l, zero)

	k1 = leftShiftOne(l)
	if l[0]&0x80 != 0 {
		xorInto(k1, rb())
	}

	k2 = leftShiftOne(k1)
	if k1[0]&0x80 != 0 {
		xorInto(k2, rb())
	}

	return k1, k2
}

func rb() []byte {
	r := make([]byte, blockSize)
	r[blockSize-1] = 0x87
	return r
}

func leftShiftOne(in []byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = (in[i] << 1) | carry
		carry = (in[i] & 0x80) >> 7
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	subtle.XORBytes(out, a, b)
	return out
}

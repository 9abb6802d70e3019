package wire

import "github.com/kaimast/credb/internal/cryptoutil"

func sealTagSuffix(key, plaintext []byte) ([]byte, error) {
	return cryptoutil.SealTagSuffix(key, plaintext)
}

func openTagSuffix(key, blob []byte) ([]byte, error) {
	return cryptoutil.OpenTagSuffix(key, blob)
}

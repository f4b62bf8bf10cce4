//go:build windows

package xstore

import (
	"github.com/billgraziano/dpapi"
)

// encryptValue protects data for the current user with DPAPI.
func encryptValue(plaintext []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plaintext)
}

// decryptValue reverses encryptValue.
func decryptValue(ciphertext []byte) ([]byte, error) {
	return dpapi.DecryptBytes(ciphertext)
}

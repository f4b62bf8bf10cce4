//go:build !windows

package xstore

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"
)

// Seed for the at-rest key. This keeps the credential out of plain text on
// disk; anyone holding the binary can still recover it.
var embeddedSeed = [32]byte{
	0x4e, 0x91, 0x0d, 0xc7, 0x62, 0x3a, 0xf8, 0x15,
	0xa4, 0x2b, 0x7e, 0xd0, 0x59, 0x86, 0x13, 0xcf,
	0x38, 0xe2, 0x6b, 0x90, 0x07, 0xbd, 0x45, 0xfa,
	0x21, 0x9c, 0x74, 0x5e, 0xa8, 0x0f, 0xd3, 0x6a,
}

var embeddedKey = deriveKey("explorer credential v1")

func deriveKey(label string) [32]byte {
	h, err := blake2b.New256(embeddedSeed[:])
	if err != nil {
		panic("blake2b.New256: " + err.Error())
	}
	h.Write([]byte(label))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// encryptValue encrypts data using nacl/secretbox with the derived key.
// Returns nonce (24 bytes) + ciphertext.
func encryptValue(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &embeddedKey), nil
}

// decryptValue reverses encryptValue.
func decryptValue(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &embeddedKey)
	if !ok {
		return nil, fmt.Errorf("decrypt failed")
	}
	return plaintext, nil
}

// Package xstore persists the single bearer credential held by the explorer
// client. A CredentialStore sits on top of a byte-oriented DataStore; the
// DataStore backends cover a config file, a directory of files, the Windows
// registry, bbolt, SQLite, Redis and memory.
package xstore

// DataStore provides simple key-value storage for credentials.
// Platform-specific implementations can use files, the Windows registry with
// DPAPI, an embedded database, etc.
type DataStore interface {
	// Get retrieves a value by key. Returns nil, nil if not found.
	// If decrypt is true, the value is decrypted before returning.
	Get(key string, decrypt bool) ([]byte, error)

	// Set stores a value by key.
	// If encrypt is true, the value is encrypted before storing.
	Set(key string, encrypt bool, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Path returns the storage location for display purposes.
	Path() string

	// Close releases any resources held by the store.
	Close() error
}

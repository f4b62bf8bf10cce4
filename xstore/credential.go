package xstore

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// KeyCredential is the fixed key the bearer credential is stored under.
const KeyCredential = "access_token"

// CredentialStore holds exactly one credential. It never fails: when the
// underlying medium is unavailable Get reports absent and Set/Clear do
// nothing, so the worst outcome is a lost session.
type CredentialStore interface {
	Get() (string, bool)
	Set(credential string)
	Clear()
}

// Credential implements CredentialStore on top of a DataStore.
type Credential struct {
	store   DataStore
	encrypt bool
	log     *slog.Logger

	mu sync.Mutex
}

var _ CredentialStore = (*Credential)(nil)

// CredentialConfig configures a Credential.
type CredentialConfig struct {
	// Store is the underlying data store. Required.
	Store DataStore

	// Encrypt stores the credential encrypted at rest.
	Encrypt bool

	// Logger receives store failures. Nil discards them.
	Logger *slog.Logger
}

// NewCredential creates a credential store with the given data store backend.
func NewCredential(cfg CredentialConfig) (*Credential, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("data store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Credential{
		store:   cfg.Store,
		encrypt: cfg.Encrypt,
		log:     log.With("store", cfg.Store.Path()),
	}, nil
}

// Get returns the stored credential, or false if there is none or the
// medium could not be read.
func (c *Credential) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.store.Get(KeyCredential, c.encrypt)
	if err != nil {
		c.log.Warn("credential read failed", "err", err)
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// Set replaces the stored credential. An empty credential clears it.
func (c *Credential) Set(credential string) {
	if credential == "" {
		c.Clear()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(KeyCredential, c.encrypt, []byte(credential)); err != nil {
		c.log.Warn("credential write failed", "err", err, "credential", Fingerprint(credential))
		return
	}
	c.log.Debug("credential stored", "credential", Fingerprint(credential))
}

// Clear removes the stored credential.
func (c *Credential) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(KeyCredential); err != nil {
		c.log.Warn("credential delete failed", "err", err)
		return
	}
	c.log.Debug("credential cleared")
}

// Close closes the underlying data store.
func (c *Credential) Close() error {
	return c.store.Close()
}

// Fingerprint returns a short, non-reversible label for a credential,
// suitable for logs.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:4])
}

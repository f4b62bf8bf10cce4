package xstore

import (
	"bytes"
	"sync"
)

// MemoryDataStore is an in-memory DataStore. Values do not survive the
// process; it backs tests and runs with persistence disabled.
type MemoryDataStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	// Fail, when set, is returned by every operation to simulate an
	// unavailable medium.
	Fail error
}

var _ DataStore = (*MemoryDataStore)(nil)

// NewMemoryDataStore creates an empty in-memory store.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{values: make(map[string][]byte)}
}

func (s *MemoryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	if decrypt {
		return decryptValue(v)
	}
	return bytes.Clone(v), nil
}

func (s *MemoryDataStore) Set(key string, encrypt bool, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	data := bytes.Clone(value)
	if encrypt {
		enc, err := encryptValue(value)
		if err != nil {
			return err
		}
		data = enc
	}
	s.values[key] = data
	return nil
}

func (s *MemoryDataStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	delete(s.values, key)
	return nil
}

// Raw returns the stored bytes for key without decryption.
func (s *MemoryDataStore) Raw(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.values[key])
}

func (s *MemoryDataStore) Path() string { return "memory" }

func (s *MemoryDataStore) Close() error { return nil }

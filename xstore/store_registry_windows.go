//go:build windows

package xstore

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// RegistryDataStore implements DataStore using the Windows registry.
// Values are stored as REG_BINARY; encryption uses DPAPI.
type RegistryDataStore struct {
	hive    registry.Key
	keyPath string
}

var _ DataStore = (*RegistryDataStore)(nil)

// NewRegistryDataStore creates a Windows registry-based data store.
// Path format: "HIVE/path/to/key" where HIVE is CU (CURRENT_USER) or
// LM (LOCAL_MACHINE). Example: "CU/SOFTWARE/explorer/session".
func NewRegistryDataStore(path string) (*RegistryDataStore, error) {
	path = strings.ReplaceAll(path, "/", `\`)

	hiveStr, keyPath, found := strings.Cut(path, `\`)
	if !found || keyPath == "" {
		return nil, fmt.Errorf("invalid registry path %q: missing hive prefix (use CU/ or LM/)", path)
	}

	var hive registry.Key
	switch strings.ToUpper(hiveStr) {
	case "CU", "CURRENT_USER":
		hive = registry.CURRENT_USER
	case "LM", "LOCAL_MACHINE":
		hive = registry.LOCAL_MACHINE
	default:
		return nil, fmt.Errorf("invalid registry hive: %s (use CU, CURRENT_USER, LM, or LOCAL_MACHINE)", hiveStr)
	}

	key, _, err := registry.CreateKey(hive, keyPath, registry.ALL_ACCESS)
	if err != nil {
		return nil, fmt.Errorf("create registry key: %w", err)
	}
	key.Close()

	return &RegistryDataStore{hive: hive, keyPath: keyPath}, nil
}

func (s *RegistryDataStore) Get(key string, decrypt bool) ([]byte, error) {
	regKey, err := registry.OpenKey(s.hive, s.keyPath, registry.QUERY_VALUE)
	if err != nil {
		return nil, nil
	}
	defer regKey.Close()

	data, _, err := regKey.GetBinaryValue(key)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	if decrypt && len(data) > 0 {
		decrypted, err := decryptValue(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return decrypted, nil
	}
	return data, nil
}

func (s *RegistryDataStore) Set(key string, encrypt bool, value []byte) error {
	regKey, _, err := registry.CreateKey(s.hive, s.keyPath, registry.ALL_ACCESS)
	if err != nil {
		return fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	data := value
	if encrypt {
		encrypted, err := encryptValue(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = encrypted
	}
	return regKey.SetBinaryValue(key, data)
}

func (s *RegistryDataStore) Delete(key string) error {
	regKey, err := registry.OpenKey(s.hive, s.keyPath, registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open registry key: %w", err)
	}
	defer regKey.Close()

	if err := regKey.DeleteValue(key); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RegistryDataStore) Path() string {
	hiveStr := "UNKNOWN"
	switch s.hive {
	case registry.LOCAL_MACHINE:
		hiveStr = "HKLM"
	case registry.CURRENT_USER:
		hiveStr = "HKCU"
	}
	return hiveStr + `\` + s.keyPath
}

func (s *RegistryDataStore) Close() error { return nil }

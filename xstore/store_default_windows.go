//go:build windows

package xstore

// Default storage location on Windows: the current user's registry hive.
const (
	DefaultBackend   = BackendRegistry
	DefaultStorePath = `CU\SOFTWARE\explorer\session`
)

func openRegistry(path string) (DataStore, error) {
	return NewRegistryDataStore(path)
}

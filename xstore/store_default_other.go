//go:build !windows

package xstore

// Default storage location on non-Windows systems.
const (
	DefaultBackend   = BackendConfig
	DefaultStorePath = "$HOME/.config/explorer/session"
)

func openRegistry(string) (DataStore, error) {
	return nil, errRegistryUnsupported
}

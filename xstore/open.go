package xstore

import (
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendConfig   = "config"
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendRegistry = "registry"
)

var errRegistryUnsupported = errors.New("registry backend is only available on windows")

// Options selects and configures a DataStore backend.
type Options struct {
	// Backend is one of the Backend* names. Empty selects DefaultBackend.
	Backend string

	// Path is the file, directory, database or registry location.
	// Empty selects DefaultStorePath, adjusted per backend.
	Path string

	// Redis is used by the redis backend.
	Redis RedisConfig
}

// Open creates the DataStore described by opt.
func Open(opt Options) (DataStore, error) {
	backend := strings.ToLower(strings.TrimSpace(opt.Backend))
	if backend == "" {
		backend = DefaultBackend
	}
	path := opt.Path

	switch backend {
	case BackendConfig:
		if path == "" {
			path = DefaultStorePath + ".conf"
		}
		return NewConfigDataStore(path)
	case BackendFile:
		if path == "" {
			path = DefaultStorePath
		}
		return NewFileDataStore(path)
	case BackendBolt:
		if path == "" {
			path = DefaultStorePath + ".db"
		}
		return NewBoltDataStore(path)
	case BackendSQLite:
		if path == "" {
			path = DefaultStorePath + ".sqlite"
		}
		return NewSQLiteDataStore(path)
	case BackendRedis:
		return NewRedisDataStore(opt.Redis)
	case BackendMemory:
		return NewMemoryDataStore(), nil
	case BackendRegistry:
		if path == "" {
			path = DefaultStorePath
		}
		return openRegistry(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opt.Backend)
	}
}

package xstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kardianos/explorer/xdef"
)

// RedisConfig configures a RedisDataStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key, e.g. "explorer:alice-laptop:".
	Prefix string

	// TTL expires stored values. Zero keeps them until deleted.
	TTL time.Duration

	// Timeout bounds each command. Defaults to 2 seconds.
	Timeout time.Duration
}

// RedisDataStore implements DataStore on a Redis server.
type RedisDataStore struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	addr    string
	owned   bool
}

var _ DataStore = (*RedisDataStore)(nil)

// NewRedisDataStore connects to the server in cfg.
func NewRedisDataStore(cfg RedisConfig) (*RedisDataStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewRedisDataStoreWithClient(rdb, cfg)
	s.owned = true
	return s, nil
}

// NewRedisDataStoreWithClient wraps an existing client. Close does not
// close a client passed in this way.
func NewRedisDataStoreWithClient(rdb redis.UniversalClient, cfg RedisConfig) *RedisDataStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisDataStore{
		rdb:     rdb,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		timeout: timeout,
		addr:    cfg.Addr,
	}
}

func (s *RedisDataStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisDataStore) Get(key string, decrypt bool) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", key, xdef.ErrStoreUnavailable, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if decrypt {
		plain, err := decryptValue(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return plain, nil
	}
	return data, nil
}

func (s *RedisDataStore) Set(key string, encrypt bool, value []byte) error {
	data := value
	if encrypt {
		enc, err := encryptValue(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		data = enc
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w: %w", key, xdef.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisDataStore) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w: %w", key, xdef.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisDataStore) Path() string {
	return "redis://" + s.addr + "/" + s.prefix
}

func (s *RedisDataStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

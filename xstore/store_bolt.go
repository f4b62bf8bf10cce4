package xstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var bucketCredentials = []byte("credentials")

// boltRecord is the CBOR envelope stored for each key.
type boltRecord struct {
	Value   []byte    `cbor:"1,keyasint"`
	SavedAt time.Time `cbor:"2,keyasint"`
}

// BoltDataStore implements DataStore using a bbolt database file.
type BoltDataStore struct {
	db   *bbolt.DB
	path string
}

var _ DataStore = (*BoltDataStore)(nil)

// NewBoltDataStore opens (or creates) the database at path.
func NewBoltDataStore(path string) (*BoltDataStore, error) {
	path = expandPath(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCredentials)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltDataStore{db: db, path: path}, nil
}

func (s *BoltDataStore) Get(key string, decrypt bool) ([]byte, error) {
	var rec boltRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !found || len(rec.Value) == 0 {
		return nil, nil
	}

	if decrypt {
		plain, err := decryptValue(rec.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		return plain, nil
	}
	return rec.Value, nil
}

func (s *BoltDataStore) Set(key string, encrypt bool, value []byte) error {
	rec := boltRecord{Value: bytes.Clone(value), SavedAt: time.Now().UTC()}
	if encrypt {
		enc, err := encryptValue(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		rec.Value = enc
	}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put([]byte(key), data)
	})
}

func (s *BoltDataStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCredentials).Delete([]byte(key))
	})
}

func (s *BoltDataStore) Path() string {
	return s.path
}

func (s *BoltDataStore) Close() error {
	return s.db.Close()
}

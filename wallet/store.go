package wallet

import (
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store persists the opaque session blob between runs. The blob is the only
// local state the system keeps; everything else is re-derived from the ledger.
// Implementations must support clearing wholesale, which the manager does when
// it finds the blob corrupted.
type Store interface {
	Load() ([]byte, bool, error)
	Save(blob []byte) error
	Clear() error
	Close() error
}

var (
	sessionBucket = []byte("session")
	sessionKey    = []byte("current")
)

// BoltStore keeps the session blob in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the session database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("wallet: open session store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("wallet: init session store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionBucket).Get(sessionKey)
		if raw != nil {
			blob = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return blob, blob != nil, nil
}

func (s *BoltStore) Save(blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(sessionKey, blob)
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(sessionKey)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu   sync.Mutex
	blob []byte
}

func (s *MemStore) Load() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.blob...), true, nil
}

func (s *MemStore) Save(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = append([]byte(nil), blob...)
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = nil
	return nil
}

func (s *MemStore) Close() error { return nil }

var (
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemStore)(nil)
)

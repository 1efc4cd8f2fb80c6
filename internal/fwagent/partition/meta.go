package partition

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPartitions = []byte("partitions")
	bucketBoot       = []byte("boot")
	keyBootState     = []byte("state")
)

// errNoTable is returned by Meta.Load before the first Save.
var errNoTable = errors.New("partition table not initialized")

// Meta persists the partition table.
type Meta interface {
	Load() (*Table, error)
	Save(t *Table) error
	Close() error
}

// BoltMeta keeps one JSON record per partition in a bbolt database, plus
// the boot selection under its own bucket.
type BoltMeta struct {
	db *bolt.DB
}

type bootState struct {
	Boot     string `json:"boot"`
	Previous string `json:"previous,omitempty"`
	Trial    bool   `json:"trial,omitempty"`
}

// OpenBoltMeta opens or creates the database at path.
func OpenBoltMeta(path string) (*BoltMeta, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPartitions, bucketBoot} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltMeta{db: db}, nil
}

func (m *BoltMeta) Load() (*Table, error) {
	t := &Table{}
	err := m.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketPartitions).ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode partition %s: %w", k, err)
			}
			t.Records = append(t.Records, r)
			return nil
		})
		if err != nil {
			return err
		}

		// Get returns memory owned by the transaction; Unmarshal copies it.
		data := tx.Bucket(bucketBoot).Get(keyBootState)
		if data == nil {
			return nil
		}
		var bs bootState
		if err := json.Unmarshal(data, &bs); err != nil {
			return fmt.Errorf("decode boot state: %w", err)
		}
		t.Boot, t.Previous, t.Trial = bs.Boot, bs.Previous, bs.Trial
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(t.Records) == 0 {
		return nil, errNoTable
	}
	t.sort()
	return t, nil
}

// Save replaces the stored table in a single transaction.
func (m *BoltMeta) Save(t *Table) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		parts := tx.Bucket(bucketPartitions)
		for _, r := range t.Records {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := parts.Put([]byte(r.Label), data); err != nil {
				return err
			}
		}

		data, err := json.Marshal(bootState{Boot: t.Boot, Previous: t.Previous, Trial: t.Trial})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBoot).Put(keyBootState, data)
	})
}

func (m *BoltMeta) Close() error {
	return m.db.Close()
}

// MemoryMeta keeps the table in memory.
type MemoryMeta struct {
	mu sync.Mutex
	t  *Table
}

func (m *MemoryMeta) Load() (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.t == nil {
		return nil, errNoTable
	}
	return m.t.clone(), nil
}

func (m *MemoryMeta) Save(t *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t.clone()
	return nil
}

func (m *MemoryMeta) Close() error { return nil }

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketOperations = []byte("operations")
)

// DefaultJournalTimeout bounds the wait for another process's journal lock
const DefaultJournalTimeout = 5 * time.Second

// Journal is an append-only history of completed operations, backed by BoltDB.
// Keys are bucket sequence numbers so iteration order is insertion order.
//
// BoltDB holds an exclusive file lock while a database is open, so the file
// is opened per call and closed again. Concurrent CLI runs, the bridge and
// the API then take turns instead of locking each other out.
type Journal struct {
	path    string
	timeout time.Duration
}

// NewJournal returns a journal stored at path. Nothing is opened until the
// first Record or read.
func NewJournal(path string) *Journal {
	return &Journal{path: path, timeout: DefaultJournalTimeout}
}

func (j *Journal) open(readOnly bool) (*bolt.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := bolt.Open(j.path, 0600, &bolt.Options{Timeout: j.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return db, nil
}

// Record appends a completed operation
func (j *Journal) Record(op *types.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}

	db, err := j.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketOperations)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketOperations, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent returns up to n operations, newest first
func (j *Journal) Recent(n int) ([]*types.Operation, error) {
	return j.scan(n, func(*types.Operation) bool { return true })
}

// ForInstance returns up to n operations touching the named instance, newest first
func (j *Journal) ForInstance(name string, n int) ([]*types.Operation, error) {
	return j.scan(n, func(op *types.Operation) bool { return op.Instance == name })
}

func (j *Journal) scan(n int, keep func(*types.Operation) bool) ([]*types.Operation, error) {
	// Nothing journaled yet
	if _, err := os.Stat(j.path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := j.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var ops []*types.Operation
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(ops) < n; k, v = c.Prev() {
			var op types.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if keep(&op) {
				ops = append(ops, &op)
			}
		}
		return nil
	})
	return ops, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

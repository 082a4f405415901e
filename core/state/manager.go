package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"tally/storage"
)

var (
	ErrTxClosed = errors.New("state: transaction already closed")
	ErrReadOnly = errors.New("state: read-only view")
)

// KV is the key-value surface every ledger component reads and writes
// through. A *Tx implements it with buffered writes; View implements it
// read-only.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Manager owns the backing database and hands out transactions. Commits are
// serialised so a batch is never interleaved with another commit.
type Manager struct {
	db       storage.Database
	commitMu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transaction. Reads consult the pending writes first; nothing
// reaches the database until Commit.
func (m *Manager) Begin() *Tx {
	return &Tx{manager: m, pending: make(map[string]pendingWrite)}
}

// View returns a read-only KV over committed state.
func (m *Manager) View() KV { return view{db: m.db} }

// Update runs fn inside a transaction and commits it when fn returns nil.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type view struct {
	db storage.Database
}

func (v view) Get(key []byte) ([]byte, error) { return v.db.Get(key) }
func (v view) Put([]byte, []byte) error       { return ErrReadOnly }
func (v view) Delete([]byte) error            { return ErrReadOnly }

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx buffers writes against committed state.
type Tx struct {
	manager *Manager
	pending map[string]pendingWrite
	closed  bool
}

func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if w, ok := tx.pending[string(key)]; ok {
		if w.deleted {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return tx.manager.db.Get(key)
}

func (tx *Tx) Put(key []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	tx.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.pending[string(key)] = pendingWrite{deleted: true}
	return nil
}

// Dirty reports the number of keys written by the transaction.
func (tx *Tx) Dirty() int { return len(tx.pending) }

// Commit writes all pending changes as one storage batch. Keys are applied in
// sorted order so the batch content is deterministic.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.pending))
	for key := range tx.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		w := tx.pending[key]
		if w.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), w.value)
	}
	tx.pending = nil
	tx.manager.commitMu.Lock()
	defer tx.manager.commitMu.Unlock()
	if err := tx.manager.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops pending writes. Calling it after Commit is a no-op.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.pending = nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func KVPut(kv KV, key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return kv.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func KVGet(kv KV, key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVSetAdd inserts member into the sorted byte-string set stored under key.
// Duplicate values are ignored to keep the index deterministic.
func KVSetAdd(kv KV, key []byte, member []byte) error {
	list, err := KVSetMembers(kv, key)
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool { return bytes.Compare(list[i], member) >= 0 })
	if idx < len(list) && bytes.Equal(list[idx], member) {
		return nil
	}
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = append([]byte(nil), member...)
	return KVPut(kv, key, list)
}

// KVSetRemove deletes member from the set stored under key. The key itself is
// removed once the set is empty.
func KVSetRemove(kv KV, key []byte, member []byte) error {
	list, err := KVSetMembers(kv, key)
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool { return bytes.Compare(list[i], member) >= 0 })
	if idx >= len(list) || !bytes.Equal(list[idx], member) {
		return nil
	}
	list = append(list[:idx], list[idx+1:]...)
	if len(list) == 0 {
		return kv.Delete(key)
	}
	return KVPut(kv, key, list)
}

// KVSetMembers returns the sorted members of the set stored under key. A
// missing key yields an empty slice.
func KVSetMembers(kv KV, key []byte) ([][]byte, error) {
	list := [][]byte{}
	if _, err := KVGet(kv, key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

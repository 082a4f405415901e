package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout for the ledger.
// Increment this constant whenever breaking changes are made to the stored
// records.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version in state.
func SetStateVersion(kv KV, version uint32) error {
	return KVPut(kv, stateVersionKey, uint64(version))
}

// StoredStateVersion returns the stored schema version and a boolean
// indicating whether the value was present.
func StoredStateVersion(kv KV) (uint32, bool, error) {
	var stored uint64
	ok, err := KVGet(kv, stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the on-disk state version matches the
// version supported by this binary. An empty database is stamped with the
// current version. When allowMigrate is true, mismatches are tolerated so
// operators can perform manual migrations.
func (m *Manager) EnsureStateVersion(allowMigrate bool) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	version, ok, err := StoredStateVersion(m.View())
	if err != nil {
		return err
	}
	if !ok {
		return m.Update(func(tx *Tx) error { return SetStateVersion(tx, StateVersion) })
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}

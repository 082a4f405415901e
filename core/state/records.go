package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"tally/crypto"
	"tally/storage"
)

// RecordKind tags the layout stored at a record address.
type RecordKind uint8

// recordMagic opens every encoded record so foreign bytes are rejected
// before the kind is even considered.
const recordMagic byte = 0xA7

// recordHeaderSize is magic + kind + version.
const recordHeaderSize = 3

var recordPrefix = []byte("rec/")

var (
	ErrNotFound        = errors.New("state: record not found")
	ErrAlreadyExists   = errors.New("state: record already exists")
	ErrKindMismatch    = errors.New("state: record kind mismatch")
	ErrVersionMismatch = errors.New("state: record version mismatch")
	ErrCorruptRecord   = errors.New("state: corrupt record")
)

// Record is a typed ledger record. Implementations must be RLP encodable
// structs; Fetch decodes into a pointer implementing Record.
type Record interface {
	RecordKind() RecordKind
	RecordVersion() uint8
}

func recordKey(addr crypto.Address) []byte {
	key := make([]byte, 0, len(recordPrefix)+crypto.AddressLength)
	key = append(key, recordPrefix...)
	return append(key, addr[:]...)
}

// EncodeRecord serialises rec as header || rlp(rec).
func EncodeRecord(rec Record) ([]byte, error) {
	body, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("state: encode record kind %d: %w", rec.RecordKind(), err)
	}
	out := make([]byte, 0, recordHeaderSize+len(body))
	out = append(out, recordMagic, byte(rec.RecordKind()), rec.RecordVersion())
	return append(out, body...), nil
}

// DecodeRecord checks the header against out's kind and version before
// decoding the body into out.
func DecodeRecord(data []byte, out Record) error {
	if len(data) < recordHeaderSize || data[0] != recordMagic {
		return ErrCorruptRecord
	}
	if RecordKind(data[1]) != out.RecordKind() {
		return fmt.Errorf("%w: stored %d, expected %d", ErrKindMismatch, data[1], out.RecordKind())
	}
	if data[2] != out.RecordVersion() {
		return fmt.Errorf("%w: stored %d, expected %d", ErrVersionMismatch, data[2], out.RecordVersion())
	}
	if err := rlp.DecodeBytes(data[recordHeaderSize:], out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return nil
}

// RecordExists reports whether any record is stored at addr.
func RecordExists(kv KV, addr crypto.Address) (bool, error) {
	_, err := kv.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create stores rec at addr. It never overwrites: an occupied address yields
// ErrAlreadyExists. The encoded size is returned for deposit accounting.
func Create(kv KV, addr crypto.Address, rec Record) (int, error) {
	exists, err := RecordExists(kv, addr)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyExists, addr)
	}
	return put(kv, addr, rec)
}

// Fetch decodes the record at addr into out.
func Fetch(kv KV, addr crypto.Address, out Record) error {
	data, err := kv.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return err
	}
	return DecodeRecord(data, out)
}

// Store overwrites an existing record of the same kind in place.
func Store(kv KV, addr crypto.Address, rec Record) (int, error) {
	data, err := kv.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return 0, err
	}
	if len(data) < recordHeaderSize || data[0] != recordMagic {
		return 0, ErrCorruptRecord
	}
	if RecordKind(data[1]) != rec.RecordKind() {
		return 0, fmt.Errorf("%w: stored %d, writing %d", ErrKindMismatch, data[1], rec.RecordKind())
	}
	return put(kv, addr, rec)
}

// Remove deletes the record at addr after checking its kind.
func Remove(kv KV, addr crypto.Address, kind RecordKind) error {
	data, err := kv.Get(recordKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return err
	}
	if len(data) < recordHeaderSize || data[0] != recordMagic {
		return ErrCorruptRecord
	}
	if RecordKind(data[1]) != kind {
		return fmt.Errorf("%w: stored %d, removing %d", ErrKindMismatch, data[1], kind)
	}
	return kv.Delete(recordKey(addr))
}

func put(kv KV, addr crypto.Address, rec Record) (int, error) {
	encoded, err := EncodeRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := kv.Put(recordKey(addr), encoded); err != nil {
		return 0, err
	}
	return len(encoded), nil
}

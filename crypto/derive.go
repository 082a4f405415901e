package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// derivationDomain separates derived addresses from key-pair addresses in the
// hash preimage. A public key hash never starts with this tag.
const derivationDomain = "tally/derived-address/v1"

// MaxSeedParts bounds the number of seed parts accepted by Derive.
const MaxSeedParts = 8

// MaxSeedLength bounds the length of a single seed part.
const MaxSeedLength = 64

var (
	ErrEmptyKind     = errors.New("crypto: derivation kind required")
	ErrTooManySeeds  = errors.New("crypto: too many seed parts")
	ErrSeedTooLong   = errors.New("crypto: seed part too long")
	ErrNotDerivation = errors.New("crypto: address does not match derivation")
)

// Seeds describes a derivation: the program that owns the derived address,
// a kind tag and the ordered seed parts.
type Seeds struct {
	Program Address
	Kind    string
	Parts   [][]byte
}

// NewSeeds builds a seed tuple. Parts are copied.
func NewSeeds(program Address, kind string, parts ...[]byte) Seeds {
	copied := make([][]byte, len(parts))
	for i, p := range parts {
		copied[i] = append([]byte(nil), p...)
	}
	return Seeds{Program: program, Kind: kind, Parts: copied}
}

// Address derives the address for the seed tuple.
func (s Seeds) Address() (Address, error) {
	return Derive(s.Program, s.Kind, s.Parts...)
}

// Derive deterministically maps (program, kind, parts...) to an address that
// has no private key. Every component is length-prefixed before hashing so
// distinct tuples never share a preimage.
func Derive(program Address, kind string, parts ...[]byte) (Address, error) {
	if kind == "" {
		return Address{}, ErrEmptyKind
	}
	if len(kind) > MaxSeedLength {
		return Address{}, fmt.Errorf("%w: kind", ErrSeedTooLong)
	}
	if len(parts) > MaxSeedParts {
		return Address{}, ErrTooManySeeds
	}
	size := len(derivationDomain) + AddressLength + 2 + len(kind) + 1
	for i, part := range parts {
		if len(part) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: part %d", ErrSeedTooLong, i)
		}
		size += 2 + len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, derivationDomain...)
	buf = append(buf, program[:]...)
	buf = appendLengthPrefixed(buf, []byte(kind))
	buf = append(buf, byte(len(parts)))
	for _, part := range parts {
		buf = appendLengthPrefixed(buf, part)
	}
	hash := ethcrypto.Keccak256(buf)
	var addr Address
	copy(addr[:], hash[len(hash)-AddressLength:])
	return addr, nil
}

// MustDerive is Derive for seeds known to be valid at compile time.
func MustDerive(program Address, kind string, parts ...[]byte) Address {
	addr, err := Derive(program, kind, parts...)
	if err != nil {
		panic(err)
	}
	return addr
}

// VerifyDerivation re-derives the address for the seeds and compares it with
// the claimed address.
func VerifyDerivation(claimed Address, seeds Seeds) error {
	derived, err := seeds.Address()
	if err != nil {
		return err
	}
	if derived != claimed {
		return fmt.Errorf("%w: %s kind %s", ErrNotDerivation, claimed, seeds.Kind)
	}
	return nil
}

func appendLengthPrefixed(buf, part []byte) []byte {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(part)))
	buf = append(buf, prefix[:]...)
	return append(buf, part...)
}

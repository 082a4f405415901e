package bank

import (
	"errors"
	"strings"

	"tally/core/state"
	"tally/crypto"
)

// KindFundingAccount tags funding account records.
const KindFundingAccount state.RecordKind = 0x10

const (
	fundingAccountVersion = 1
	fundingSeed           = "funding"
	maxLabelLength        = 32
)

// ProgramAddress is the derived owner of every funding account record.
var ProgramAddress = crypto.MustDerive(crypto.ZeroAddress, "program", []byte("bank"))

var (
	ErrAccountNotFound   = errors.New("bank: funding account not found")
	ErrAccountExists     = errors.New("bank: funding account already exists")
	ErrUnauthorized      = errors.New("bank: unauthorized")
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInvalidLabel      = errors.New("bank: invalid account label")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
	ErrZeroAllowance     = errors.New("bank: allowance cap must be positive, revoke instead")
	ErrAllowanceExceeded = errors.New("bank: allowance exceeded")
	ErrAuthorityMismatch = errors.New("bank: delegate authority mismatch")
	ErrAccountFrozen     = errors.New("bank: funding account frozen")
	ErrProgramBound      = errors.New("bank: program signer already bound")
	ErrLegMismatch       = errors.New("bank: transfer legs do not sum to total")
)

// FundingAccount is a token balance owned by one address. Like the token
// primitive it models, it supports at most one delegate at a time with a
// bounded allowance.
type FundingAccount struct {
	Owner           crypto.Address
	Label           string
	Balance         uint64
	Delegate        crypto.Address
	DelegatedAmount uint64
	Frozen          bool
}

func (FundingAccount) RecordKind() state.RecordKind { return KindFundingAccount }
func (FundingAccount) RecordVersion() uint8         { return fundingAccountVersion }

// Clone returns a copy of the account.
func (a *FundingAccount) Clone() *FundingAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// HasDelegate reports whether a delegate is currently approved.
func (a *FundingAccount) HasDelegate() bool {
	return a != nil && !a.Delegate.IsZero() && a.DelegatedAmount > 0
}

// AllowanceFor returns the remaining allowance granted to delegate.
func (a *FundingAccount) AllowanceFor(delegate crypto.Address) uint64 {
	if a == nil || a.Delegate != delegate {
		return 0
	}
	return a.DelegatedAmount
}

// NormalizeLabel trims the label and validates its charset.
func NormalizeLabel(label string) (string, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		trimmed = "default"
	}
	if len(trimmed) > maxLabelLength {
		return "", ErrInvalidLabel
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", ErrInvalidLabel
		}
	}
	return trimmed, nil
}

// AccountAddress derives the funding account address for owner and label.
func AccountAddress(owner crypto.Address, label string) (crypto.Address, error) {
	normalized, err := NormalizeLabel(label)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.Derive(ProgramAddress, fundingSeed, owner[:], []byte(normalized))
}

// Leg is one destination of a delegated transfer.
type Leg struct {
	To     crypto.Address
	Amount uint64
}

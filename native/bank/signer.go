package bank

import (
	"fmt"
	"math"

	"tally/core/state"
	"tally/crypto"
)

// ProgramSigner signs as keyless addresses derived under one program. There
// is no private key: the signature is the successful re-derivation of the
// delegate from the presented seeds.
type ProgramSigner struct {
	ledger  *Ledger
	program crypto.Address
}

// Program returns the program the signer is bound to.
func (s *ProgramSigner) Program() crypto.Address { return s.program }

func (s *ProgramSigner) authorize(seeds crypto.Seeds) (crypto.Address, error) {
	if seeds.Program != s.program {
		return crypto.Address{}, fmt.Errorf("%w: seeds for program %s presented by %s", ErrAuthorityMismatch, seeds.Program, s.program)
	}
	return seeds.Address()
}

// TransferFrom spends total from the funding account as the delegate derived
// from seeds and credits each leg. The account's allowance is decremented by
// total. Nothing is written unless every check passes.
func (s *ProgramSigner) TransferFrom(kv state.KV, seeds crypto.Seeds, from crypto.Address, total uint64, legs []Leg) error {
	if total == 0 {
		return ErrInvalidAmount
	}
	var sum uint64
	for _, leg := range legs {
		if sum > math.MaxUint64-leg.Amount {
			return ErrBalanceOverflow
		}
		sum += leg.Amount
	}
	if sum != total {
		return fmt.Errorf("%w: legs %d, total %d", ErrLegMismatch, sum, total)
	}
	delegate, err := s.authorize(seeds)
	if err != nil {
		return err
	}
	acct, err := s.ledger.Account(kv, from)
	if err != nil {
		return err
	}
	if acct.Delegate != delegate {
		return fmt.Errorf("%w: account delegate %s, signer %s", ErrAuthorityMismatch, acct.Delegate, delegate)
	}
	if acct.Frozen {
		return ErrAccountFrozen
	}
	if total > acct.DelegatedAmount {
		return fmt.Errorf("%w: remaining %d, required %d", ErrAllowanceExceeded, acct.DelegatedAmount, total)
	}
	if acct.Balance < total {
		return fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, acct.Balance, total)
	}
	for _, leg := range legs {
		if _, err := s.ledger.Account(kv, leg.To); err != nil {
			return err
		}
	}
	acct.Balance -= total
	acct.DelegatedAmount -= total
	if err := s.ledger.storeAccount(kv, from, acct); err != nil {
		return err
	}
	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		if err := s.ledger.credit(kv, leg.To, leg.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Approve grants the delegate derived from seeds an allowance on the payer's
// account. The payer signs the surrounding operation; the signer only proves
// which delegate is being approved.
func (s *ProgramSigner) Approve(kv state.KV, seeds crypto.Seeds, owner, account crypto.Address, cap uint64) error {
	delegate, err := s.authorize(seeds)
	if err != nil {
		return err
	}
	return s.ledger.Approve(kv, owner, account, delegate, cap)
}

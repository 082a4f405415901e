package subscription

import (
	"fmt"

	"tally/core/state"
	"tally/crypto"
	"tally/native/bank"
)

// OpenFundingAccount creates a funding account for owner under label.
func (e *Engine) OpenFundingAccount(owner crypto.Address, label string) (crypto.Address, error) {
	at, err := bank.AccountAddress(owner, label)
	if err != nil {
		return crypto.Address{}, mapBankErr(err)
	}
	err = e.atomic(lockKeys(at), func(tx *state.Tx, _ heldKeys, _ *outbox) error {
		_, err := e.ledger.OpenAccount(tx, owner, label)
		return mapBankErr(err)
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return at, nil
}

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e.admin.IsZero() || caller != e.admin {
		return fmt.Errorf("%w: admin required", ErrUnauthorized)
	}
	return nil
}

// Mint credits a funding account from outside the ledger. Admin only.
func (e *Engine) Mint(caller, account crypto.Address, amount uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.atomic(lockKeys(account), func(tx *state.Tx, _ heldKeys, _ *outbox) error {
		return mapBankErr(e.ledger.Deposit(tx, account, amount))
	})
}

// FundDeposits credits the native balance used for storage deposits. Admin
// only.
func (e *Engine) FundDeposits(caller, holder crypto.Address, amount uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount == 0 {
		return invalidParam("amount", "must be positive")
	}
	return e.atomic(lockKeys(holder), func(tx *state.Tx, _ heldKeys, _ *outbox) error {
		return mapBankErr(e.ledger.CreditNative(tx, holder, amount))
	})
}

// Transfer moves tokens between funding accounts on behalf of the source
// owner.
func (e *Engine) Transfer(owner, from, to crypto.Address, amount uint64) error {
	return e.atomic(lockKeys(from, to), func(tx *state.Tx, _ heldKeys, _ *outbox) error {
		return mapBankErr(e.ledger.Transfer(tx, owner, from, to, amount))
	})
}

// GrantAllowance sets the shared delegate's allowance on a payer's funding
// account to cap. It replaces whatever allowance was left, for every
// agreement charging that account.
func (e *Engine) GrantAllowance(owner, account crypto.Address, cap uint64) error {
	return e.atomic(lockKeys(account), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		if err := e.signer.Approve(tx, DelegateSeeds(), owner, account, cap); err != nil {
			return mapBankErr(err)
		}
		out.emit(AllowanceGranted{FundingAccount: account, Owner: owner, Delegate: DelegateAddress(), Cap: cap})
		return nil
	})
}

// RevokeAllowance clears the delegate of a payer's funding account.
func (e *Engine) RevokeAllowance(owner, account crypto.Address) error {
	return e.atomic(lockKeys(account), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		if err := e.ledger.Revoke(tx, owner, account); err != nil {
			return mapBankErr(err)
		}
		out.emit(AllowanceRevoked{FundingAccount: account, Owner: owner})
		return nil
	})
}

package bank

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"tally/core/state"
	"tally/crypto"
)

var nativePrefix = []byte("native/")

// Ledger implements funding accounts, allowances and native deposit balances
// over any state.KV, so callers compose bank updates with their own record
// writes inside one transaction.
type Ledger struct {
	mu    sync.Mutex
	bound map[crypto.Address]struct{}
}

// NewLedger creates a bank ledger.
func NewLedger() *Ledger {
	return &Ledger{bound: make(map[crypto.Address]struct{})}
}

// OpenAccount creates an empty funding account for owner.
func (l *Ledger) OpenAccount(kv state.KV, owner crypto.Address, label string) (crypto.Address, error) {
	if owner.IsZero() {
		return crypto.Address{}, ErrUnauthorized
	}
	normalized, err := NormalizeLabel(label)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := AccountAddress(owner, normalized)
	if err != nil {
		return crypto.Address{}, err
	}
	acct := &FundingAccount{Owner: owner, Label: normalized}
	if _, err := state.Create(kv, addr, acct); err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			return crypto.Address{}, fmt.Errorf("%w: %s", ErrAccountExists, addr)
		}
		return crypto.Address{}, err
	}
	return addr, nil
}

// Account loads the funding account stored at addr.
func (l *Ledger) Account(kv state.KV, addr crypto.Address) (*FundingAccount, error) {
	acct := new(FundingAccount)
	if err := state.Fetch(kv, addr, acct); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, err
	}
	return acct, nil
}

func (l *Ledger) storeAccount(kv state.KV, addr crypto.Address, acct *FundingAccount) error {
	_, err := state.Store(kv, addr, acct)
	return err
}

func (l *Ledger) ownedAccount(kv state.KV, owner, addr crypto.Address) (*FundingAccount, error) {
	acct, err := l.Account(kv, addr)
	if err != nil {
		return nil, err
	}
	if acct.Owner != owner {
		return nil, fmt.Errorf("%w: %s is not owned by %s", ErrUnauthorized, addr, owner)
	}
	return acct, nil
}

// Deposit credits amount to the account from outside the ledger.
func (l *Ledger) Deposit(kv state.KV, addr crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acct, err := l.Account(kv, addr)
	if err != nil {
		return err
	}
	if acct.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	acct.Balance += amount
	return l.storeAccount(kv, addr, acct)
}

// Withdraw debits amount from an owner-signed account.
func (l *Ledger) Withdraw(kv state.KV, owner, addr crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	acct, err := l.ownedAccount(kv, owner, addr)
	if err != nil {
		return err
	}
	if acct.Frozen {
		return ErrAccountFrozen
	}
	if acct.Balance < amount {
		return ErrInsufficientFunds
	}
	acct.Balance -= amount
	return l.storeAccount(kv, addr, acct)
}

// Transfer moves amount between accounts on behalf of the source owner.
func (l *Ledger) Transfer(kv state.KV, owner, from, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	src, err := l.ownedAccount(kv, owner, from)
	if err != nil {
		return err
	}
	if src.Frozen {
		return ErrAccountFrozen
	}
	if src.Balance < amount {
		return ErrInsufficientFunds
	}
	src.Balance -= amount
	if err := l.storeAccount(kv, from, src); err != nil {
		return err
	}
	return l.credit(kv, to, amount)
}

func (l *Ledger) credit(kv state.KV, addr crypto.Address, amount uint64) error {
	dst, err := l.Account(kv, addr)
	if err != nil {
		return err
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	dst.Balance += amount
	return l.storeAccount(kv, addr, dst)
}

// Approve sets the account's single delegate and allowance cap, replacing
// any previous grant.
func (l *Ledger) Approve(kv state.KV, owner, addr, delegate crypto.Address, cap uint64) error {
	if cap == 0 {
		return ErrZeroAllowance
	}
	if delegate.IsZero() {
		return fmt.Errorf("%w: zero delegate", ErrUnauthorized)
	}
	acct, err := l.ownedAccount(kv, owner, addr)
	if err != nil {
		return err
	}
	if acct.Frozen {
		return ErrAccountFrozen
	}
	acct.Delegate = delegate
	acct.DelegatedAmount = cap
	return l.storeAccount(kv, addr, acct)
}

// Revoke clears the account's delegate.
func (l *Ledger) Revoke(kv state.KV, owner, addr crypto.Address) error {
	acct, err := l.ownedAccount(kv, owner, addr)
	if err != nil {
		return err
	}
	acct.Delegate = crypto.Address{}
	acct.DelegatedAmount = 0
	return l.storeAccount(kv, addr, acct)
}

// SetFrozen toggles the frozen flag of an owner-signed account.
func (l *Ledger) SetFrozen(kv state.KV, owner, addr crypto.Address, frozen bool) error {
	acct, err := l.ownedAccount(kv, owner, addr)
	if err != nil {
		return err
	}
	acct.Frozen = frozen
	return l.storeAccount(kv, addr, acct)
}

func nativeKey(addr crypto.Address) []byte {
	key := make([]byte, 0, len(nativePrefix)+crypto.AddressLength)
	key = append(key, nativePrefix...)
	return append(key, addr[:]...)
}

// NativeBalance returns the deposit balance of addr used to pay for record
// storage.
func (l *Ledger) NativeBalance(kv state.KV, addr crypto.Address) (uint64, error) {
	var balance uint64
	if _, err := state.KVGet(kv, nativeKey(addr), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// CreditNative adds amount to the deposit balance of addr.
func (l *Ledger) CreditNative(kv state.KV, addr crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	balance, err := l.NativeBalance(kv, addr)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	return state.KVPut(kv, nativeKey(addr), balance+amount)
}

// DebitNative removes amount from the deposit balance of addr.
func (l *Ledger) DebitNative(kv state.KV, addr crypto.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	balance, err := l.NativeBalance(kv, addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: deposit balance %d, required %d", ErrInsufficientFunds, balance, amount)
	}
	return state.KVPut(kv, nativeKey(addr), balance-amount)
}

// BindProgram hands out the only signer able to move funds as delegates
// derived under program. Each program can be bound once; the binder keeps
// the signer private.
func (l *Ledger) BindProgram(program crypto.Address) (*ProgramSigner, error) {
	if program.IsZero() {
		return nil, fmt.Errorf("bank: program address required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bound[program]; ok {
		return nil, fmt.Errorf("%w: %s", ErrProgramBound, program)
	}
	l.bound[program] = struct{}{}
	return &ProgramSigner{ledger: l, program: program}, nil
}

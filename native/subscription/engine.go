package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/core/events"
	"tally/core/state"
	"tally/crypto"
	"tally/native/bank"
)

var (
	errNilState  = errors.New("subscription engine: state not configured")
	errStaleKeys = errors.New("subscription engine: records moved outside the locked key set")
)

// maxPlanAttempts bounds how often an operation re-plans its key set when
// the records it read changed before the locks were taken.
const maxPlanAttempts = 4

const lockAllAgreements = "subscription/lock/all"

// Engine runs the subscription state machine. Every operation reads the
// records it needs, validates them and applies its writes and transfers in
// one state transaction. Events are emitted after the commit; warnings are
// emitted even when the operation fails.
type Engine struct {
	state               *state.Manager
	ledger              *bank.Ledger
	signer              *bank.ProgramSigner
	emitter             events.Emitter
	logger              *slog.Logger
	nowFn               func() int64
	locks               *keyLocks
	admin               crypto.Address
	depositPerByte      uint64
	lowAllowancePeriods uint64
}

// NewEngine binds the subscription program to the ledger. A ledger accepts
// a single binding, so at most one engine can spend as the shared delegate.
func NewEngine(ledger *bank.Ledger) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("subscription engine: ledger required")
	}
	signer, err := ledger.BindProgram(ProgramAddress)
	if err != nil {
		return nil, err
	}
	return &Engine{
		ledger:              ledger,
		signer:              signer,
		emitter:             events.NoopEmitter{},
		logger:              slog.Default(),
		nowFn:               func() int64 { return time.Now().Unix() },
		locks:               newKeyLocks(),
		lowAllowancePeriods: DefaultLowAllowancePeriods,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(mgr *state.Manager) { e.state = mgr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetAdmin configures the address allowed to initialise the config and to
// mint into funding accounts.
func (e *Engine) SetAdmin(admin crypto.Address) { e.admin = admin }

// SetDepositPerByte configures the storage deposit charged per encoded
// record byte.
func (e *Engine) SetDepositPerByte(amount uint64) { e.depositPerByte = amount }

// SetLowAllowancePeriods configures the low-allowance threshold in periods.
// Zero restores the default.
func (e *Engine) SetLowAllowancePeriods(periods uint64) {
	if periods == 0 {
		periods = DefaultLowAllowancePeriods
	}
	e.lowAllowancePeriods = periods
}

// Ledger exposes the bank ledger the engine is bound to.
func (e *Engine) Ledger() *bank.Ledger { return e.ledger }

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// outbox collects the events of one operation. Warnings survive a failed
// operation; everything else is dropped with the transaction.
type outbox struct {
	entries []outboxEntry
}

type outboxEntry struct {
	evt    events.Event
	always bool
}

func (o *outbox) emit(evt events.Event) {
	if o != nil {
		o.entries = append(o.entries, outboxEntry{evt: evt})
	}
}

func (o *outbox) warn(evt events.Event) {
	if o != nil {
		o.entries = append(o.entries, outboxEntry{evt: evt, always: true})
	}
}

func (e *Engine) flush(out *outbox, committed bool) {
	if e.emitter == nil || out == nil {
		return
	}
	for _, entry := range out.entries {
		if committed || entry.always {
			e.emitter.Emit(entry.evt)
		}
	}
}

func lockKey(a crypto.Address) string { return string(a[:]) }

func lockKeys(addrs ...crypto.Address) []string {
	keys := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsZero() {
			keys = append(keys, lockKey(a))
		}
	}
	return keys
}

// atomic runs fn in one transaction while holding keys.
func (e *Engine) atomic(keys []string, fn func(tx *state.Tx, held heldKeys, out *outbox) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	held, release := e.locks.acquire(keys)
	defer release()

	tx := e.state.Begin()
	defer tx.Discard()
	out := &outbox{}
	if err := fn(tx, held, out); err != nil {
		e.flush(out, false)
		return err
	}
	if err := tx.Commit(); err != nil {
		e.flush(out, false)
		return fmt.Errorf("subscription engine: commit: %w", err)
	}
	e.flush(out, true)
	return nil
}

// planned re-reads committed state through plan to learn which keys an
// operation will write, then runs it under those locks. If fn finds that a
// record now points outside the held set it reports errStaleKeys and the
// operation is planned again.
func (e *Engine) planned(plan func(kv state.KV) ([]string, error), fn func(tx *state.Tx, held heldKeys, out *outbox) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	for attempt := 0; attempt < maxPlanAttempts; attempt++ {
		keys, err := plan(e.state.View())
		if err != nil {
			return err
		}
		err = e.atomic(keys, fn)
		if !errors.Is(err, errStaleKeys) {
			return err
		}
		e.logger.Debug("subscription engine: replanning locked keys", "attempt", attempt+1)
	}
	return fmt.Errorf("%w after %d attempts", errStaleKeys, maxPlanAttempts)
}

func requireHeld(held heldKeys, addrs ...crypto.Address) error {
	for _, a := range addrs {
		if !held.holds(lockKey(a)) {
			return errStaleKeys
		}
	}
	return nil
}

func (e *Engine) fetch(kv state.KV, at crypto.Address, out state.Record) error {
	err := state.Fetch(kv, at, out)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrKindMismatch):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, state.ErrVersionMismatch), errors.Is(err, state.ErrCorruptRecord):
		return fmt.Errorf("%w at %s: %w", ErrIncompatibleRecord, at, err)
	default:
		return err
	}
}

func (e *Engine) loadConfig(kv state.KV) (*Config, error) {
	cfg := new(Config)
	if err := e.fetch(kv, ConfigAddress(), cfg); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	return cfg, nil
}

func (e *Engine) loadActiveConfig(kv state.KV) (*Config, error) {
	cfg, err := e.loadConfig(kv)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrProgramPaused
	}
	return cfg, nil
}

func (e *Engine) loadPayee(kv state.KV, at crypto.Address, out *outbox) (*Payee, error) {
	rec := new(Payee)
	if err := e.fetch(kv, at, rec); err != nil {
		return nil, err
	}
	seeds := crypto.NewSeeds(ProgramAddress, seedPayee, rec.Authority[:])
	if err := verifyDerived("payee", at, seeds); err != nil {
		out.warn(AuthorityMismatchWarning{Reference: at, Field: "payee", Expected: PayeeAddress(rec.Authority), Actual: at})
		return nil, err
	}
	return rec, nil
}

func (e *Engine) loadTerms(kv state.KV, at crypto.Address, out *outbox) (*Terms, error) {
	rec := new(Terms)
	if err := e.fetch(kv, at, rec); err != nil {
		return nil, err
	}
	seeds := crypto.NewSeeds(ProgramAddress, seedTerms, rec.Payee[:], []byte(rec.ID))
	if err := verifyDerived("terms", at, seeds); err != nil {
		expected, _ := seeds.Address()
		out.warn(AuthorityMismatchWarning{Reference: at, Field: "terms", Expected: expected, Actual: at})
		return nil, err
	}
	return rec, nil
}

func (e *Engine) loadAgreement(kv state.KV, at crypto.Address, out *outbox) (*Agreement, error) {
	rec := new(Agreement)
	if err := e.fetch(kv, at, rec); err != nil {
		return nil, err
	}
	seeds := crypto.NewSeeds(ProgramAddress, seedAgreement, rec.Terms[:], rec.Payer[:])
	if err := verifyDerived("agreement", at, seeds); err != nil {
		out.warn(AuthorityMismatchWarning{Reference: at, Field: "agreement", Expected: AgreementAddress(rec.Terms, rec.Payer), Actual: at})
		return nil, err
	}
	return rec, nil
}

// ownedAccount loads a funding account and checks that owner controls it.
func (e *Engine) ownedAccount(kv state.KV, account, owner crypto.Address, ref crypto.Address, field string, out *outbox) (*bank.FundingAccount, error) {
	acct, err := e.ledger.Account(kv, account)
	if err != nil {
		return nil, mapBankErr(err)
	}
	if acct.Owner != owner {
		out.warn(AuthorityMismatchWarning{Reference: ref, Field: field, Expected: owner, Actual: acct.Owner})
		return nil, fmt.Errorf("%w: %s %s owned by %s, expected %s", ErrAuthorityMismatch, field, account, acct.Owner, owner)
	}
	return acct, nil
}

// create stores rec at a fresh address and debits the storage deposit from
// payer's native balance. The deposit is computed from the encoding without
// the deposit field set and written into the record.
func (e *Engine) create(kv state.KV, at, payer crypto.Address, rec state.Record, setDeposit func(uint64)) error {
	exists, err := state.RecordExists(kv, at)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, at)
	}
	deposit, err := e.depositFor(rec)
	if err != nil {
		return err
	}
	setDeposit(deposit)
	if deposit > 0 {
		if err := e.ledger.DebitNative(kv, payer, deposit); err != nil {
			return mapBankErr(err)
		}
	}
	_, err = state.Create(kv, at, rec)
	return err
}

func (e *Engine) depositFor(rec state.Record) (uint64, error) {
	if e.depositPerByte == 0 {
		return 0, nil
	}
	encoded, err := state.EncodeRecord(rec)
	if err != nil {
		return 0, err
	}
	return allowanceCap(uint64(len(encoded)), e.depositPerByte)
}

func (e *Engine) store(kv state.KV, at crypto.Address, rec state.Record) error {
	_, err := state.Store(kv, at, rec)
	return err
}

func mapBankErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bank.ErrAllowanceExceeded):
		return fmt.Errorf("%w: %w", ErrAllowanceExceeded, err)
	case errors.Is(err, bank.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, bank.ErrAuthorityMismatch):
		return fmt.Errorf("%w: %w", ErrAuthorityMismatch, err)
	case errors.Is(err, bank.ErrUnauthorized), errors.Is(err, bank.ErrAccountFrozen):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, bank.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, bank.ErrAccountExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, bank.ErrBalanceOverflow):
		return fmt.Errorf("%w: %w", ErrArithmeticFault, err)
	case errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, bank.ErrInvalidLabel),
		errors.Is(err, bank.ErrZeroAllowance), errors.Is(err, bank.ErrLegMismatch):
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	default:
		return err
	}
}

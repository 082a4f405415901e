package subscription

import (
	"errors"
	"fmt"

	"tally/core/state"
	"tally/crypto"
	"tally/native/bank"
)

// payoutKeys resolves, best effort, the accounts a charge against terms
// would credit. Lookup failures are left for the locked pass to report.
func (e *Engine) payoutKeys(kv state.KV, terms crypto.Address) []crypto.Address {
	var out []crypto.Address
	if cfg, err := e.loadConfig(kv); err == nil {
		out = append(out, cfg.PlatformDestination)
	}
	rec := new(Terms)
	if err := state.Fetch(kv, terms, rec); err != nil {
		return out
	}
	payee := new(Payee)
	if err := state.Fetch(kv, rec.Payee, payee); err != nil {
		return out
	}
	return append(out, payee.Destination)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAllowanceExceeded):
		return ReasonAllowanceExceeded
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrAuthorityMismatch), errors.Is(err, ErrUnauthorized):
		return ReasonAuthorityMismatch
	case errors.Is(err, ErrArithmeticFault):
		return ReasonArithmeticFault
	default:
		return ""
	}
}

// charge moves amount out of the agreement's funding account as the shared
// delegate, split between payee, platform and keeper. Authorization and
// arithmetic failures are reported as PaymentFailed before returning.
func (e *Engine) charge(tx *state.Tx, at crypto.Address, ag *Agreement, payee *Payee, cfg *Config, keeperBps uint32, keeperAccount crypto.Address, amount uint64, out *outbox) (FeeSplit, uint64, error) {
	fail := func(err error) (FeeSplit, uint64, error) {
		if reason := failureReason(err); reason != "" {
			out.warn(PaymentFailed{Agreement: at, Payer: ag.Payer, Amount: amount, Reason: reason})
		}
		return FeeSplit{}, 0, err
	}
	split, err := SplitFees(amount, keeperBps, payee.FeeBps)
	if err != nil {
		return fail(err)
	}
	acct, err := e.ownedAccount(tx, ag.FundingAccount, ag.Payer, at, "funding_account", out)
	if err != nil {
		return fail(err)
	}
	remaining := acct.AllowanceFor(DelegateAddress())
	if remaining < amount {
		out.warn(LowAllowanceWarning{Agreement: at, Payer: ag.Payer, FundingAccount: ag.FundingAccount, Remaining: remaining, Required: amount})
		return fail(fmt.Errorf("%w: remaining %d, required %d", ErrAllowanceExceeded, remaining, amount))
	}
	if acct.Balance < amount {
		return fail(fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, acct.Balance, amount))
	}
	legs := []bank.Leg{
		{To: payee.Destination, Amount: split.Payee},
		{To: cfg.PlatformDestination, Amount: split.Platform},
	}
	if split.Keeper > 0 {
		legs = append(legs, bank.Leg{To: keeperAccount, Amount: split.Keeper})
	}
	if err := e.signer.TransferFrom(tx, DelegateSeeds(), ag.FundingAccount, amount, legs); err != nil {
		return fail(mapBankErr(err))
	}
	return split, remaining - amount, nil
}

// warnIfLow reports a committed charge that left fewer than the configured
// number of periods in the allowance. Required is the threshold amount.
func (e *Engine) warnIfLow(at crypto.Address, ag *Agreement, remaining, amount uint64, out *outbox) {
	threshold, err := allowanceCap(amount, e.lowAllowancePeriods)
	if err != nil {
		return
	}
	if remaining < threshold {
		out.emit(LowAllowanceWarning{Agreement: at, Payer: ag.Payer, FundingAccount: ag.FundingAccount, Remaining: remaining, Required: threshold})
	}
}

// Start creates an agreement between payer and terms, approves the shared
// delegate for AllowancePeriods charges and charges the first period
// immediately unless a trial defers it.
func (e *Engine) Start(payer crypto.Address, params StartParams) (crypto.Address, error) {
	if payer.IsZero() {
		return crypto.Address{}, invalidParam("payer", "required")
	}
	at := AgreementAddress(params.Terms, payer)
	plan := func(kv state.KV) ([]string, error) {
		addrs := append([]crypto.Address{at, params.FundingAccount, params.Terms, payer}, e.payoutKeys(kv, params.Terms)...)
		return append(lockKeys(addrs...), lockAllAgreements), nil
	}
	err := e.planned(plan, func(tx *state.Tx, held heldKeys, out *outbox) error {
		cfg, err := e.loadActiveConfig(tx)
		if err != nil {
			return err
		}
		terms, err := e.loadTerms(tx, params.Terms, out)
		if err != nil {
			return err
		}
		if !terms.Active {
			return ErrTermsInactive
		}
		payee, err := e.loadPayee(tx, terms.Payee, out)
		if err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, payee.Destination, payee.Authority, params.Terms, "payee_destination", out); err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, params.FundingAccount, payer, at, "funding_account", out); err != nil {
			return err
		}
		if err := requireHeld(held, payee.Destination, cfg.PlatformDestination); err != nil {
			return err
		}
		existing := new(Agreement)
		switch err := e.fetch(tx, at, existing); {
		case err == nil:
			if existing.Active {
				return fmt.Errorf("%w: %s", ErrAlreadyActive, at)
			}
			return fmt.Errorf("%w: %s is paused, resume it instead", ErrAlreadyExists, at)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		periods := params.AllowancePeriods
		if periods == 0 {
			periods = cfg.DefaultAllowancePeriods
		}
		allowance, err := allowanceCap(terms.Amount, periods)
		if err != nil {
			return err
		}
		if err := e.signer.Approve(tx, DelegateSeeds(), payer, params.FundingAccount, allowance); err != nil {
			return mapBankErr(err)
		}
		out.emit(AllowanceGranted{FundingAccount: params.FundingAccount, Owner: payer, Delegate: DelegateAddress(), Cap: allowance})

		now := e.now()
		ag := &Agreement{
			Payer:            payer,
			Terms:            params.Terms,
			FundingAccount:   params.FundingAccount,
			Amount:           terms.Amount,
			PeriodSecs:       terms.PeriodSecs,
			AllowancePeriods: periods,
			CreatedAt:        now,
			Active:           true,
		}
		var charged, remaining uint64
		if params.TrialSecs > 0 {
			if ag.NextPaymentAt, err = checkedAdd(now, params.TrialSecs); err != nil {
				return err
			}
		} else {
			// The payer signs the first charge, so no keeper fee applies.
			split, left, err := e.charge(tx, at, ag, payee, cfg, 0, crypto.Address{}, terms.Amount, out)
			if err != nil {
				return err
			}
			remaining = left
			if ag.NextPaymentAt, err = checkedAdd(now, terms.PeriodSecs); err != nil {
				return err
			}
			ag.LastPaymentAt = now
			ag.LastAmount = terms.Amount
			ag.PaymentCount = 1
			charged = terms.Amount
			out.emit(PaymentExecuted{
				Agreement: at, Payer: payer, Payee: terms.Payee,
				Amount: split.Amount, PlatformFee: split.Platform, PayeeShare: split.Payee,
				PaymentCount: 1, PaidAt: now, NextPaymentAt: ag.NextPaymentAt,
			})
		}
		if err := e.create(tx, at, payer, ag, func(d uint64) { ag.Deposit = d }); err != nil {
			return err
		}
		if err := state.KVSetAdd(tx, agreementsByTermsKey(params.Terms), at[:]); err != nil {
			return err
		}
		if err := state.KVSetAdd(tx, agreementsByPayerKey(payer), at[:]); err != nil {
			return err
		}
		if err := state.KVSetAdd(tx, indexAllAgreements, at[:]); err != nil {
			return err
		}
		out.emit(AgreementStarted{
			Agreement: at, Payer: payer, Terms: params.Terms, Payee: terms.Payee,
			Amount: ag.Amount, PeriodSecs: ag.PeriodSecs, Allowance: allowance,
			Charged: charged, NextPaymentAt: ag.NextPaymentAt,
		})
		if charged > 0 {
			e.warnIfLow(at, ag, remaining, charged, out)
		}
		return nil
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return at, nil
}

// Execute charges one period of an active agreement on behalf of keeper,
// whose funding account receives the keeper fee. The charge never exceeds
// the current terms amount and the schedule advances by exactly one period.
func (e *Engine) Execute(keeper, agreement, keeperAccount crypto.Address) (*ExecutionResult, error) {
	plan := func(kv state.KV) ([]string, error) {
		addrs := []crypto.Address{agreement, keeperAccount}
		ag := new(Agreement)
		if err := state.Fetch(kv, agreement, ag); err == nil {
			addrs = append(addrs, ag.FundingAccount)
			addrs = append(addrs, e.payoutKeys(kv, ag.Terms)...)
		}
		return lockKeys(addrs...), nil
	}
	var result *ExecutionResult
	err := e.planned(plan, func(tx *state.Tx, held heldKeys, out *outbox) error {
		cfg, err := e.loadActiveConfig(tx)
		if err != nil {
			return err
		}
		ag, err := e.loadAgreement(tx, agreement, out)
		if err != nil {
			return err
		}
		if !ag.Active {
			return fmt.Errorf("%w: %s", ErrAgreementInactive, agreement)
		}
		now := e.now()
		if now < ag.NextPaymentAt {
			return fmt.Errorf("%w: next payment at %d, now %d", ErrTooEarly, ag.NextPaymentAt, now)
		}
		if now <= ag.LastPaymentAt {
			return fmt.Errorf("%w: already charged at %d", ErrTooEarly, ag.LastPaymentAt)
		}
		terms, err := e.loadTerms(tx, ag.Terms, out)
		if err != nil {
			return err
		}
		payee, err := e.loadPayee(tx, terms.Payee, out)
		if err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, payee.Destination, payee.Authority, ag.Terms, "payee_destination", out); err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, keeperAccount, keeper, agreement, "keeper_account", out); err != nil {
			return err
		}
		if err := requireHeld(held, ag.FundingAccount, payee.Destination, cfg.PlatformDestination); err != nil {
			return err
		}

		amount := ag.Amount
		if terms.Amount < amount {
			amount = terms.Amount
		}
		split, remaining, err := e.charge(tx, agreement, ag, payee, cfg, cfg.KeeperFeeBps, keeperAccount, amount, out)
		if err != nil {
			return err
		}
		next, err := checkedAdd(ag.NextPaymentAt, ag.PeriodSecs)
		if err != nil {
			return err
		}
		count, err := checkedAdd(ag.PaymentCount, 1)
		if err != nil {
			return err
		}
		ag.NextPaymentAt = next
		ag.LastPaymentAt = now
		ag.LastAmount = amount
		ag.PaymentCount = count
		if err := e.store(tx, agreement, ag); err != nil {
			return err
		}
		out.emit(PaymentExecuted{
			Agreement: agreement, Payer: ag.Payer, Payee: terms.Payee, Keeper: keeper,
			Amount: amount, KeeperFee: split.Keeper, PlatformFee: split.Platform, PayeeShare: split.Payee,
			PaymentCount: count, PaidAt: now, NextPaymentAt: next,
		})
		e.warnIfLow(agreement, ag, remaining, amount, out)
		result = &ExecutionResult{
			Agreement:     agreement,
			Amount:        amount,
			KeeperFee:     split.Keeper,
			PlatformFee:   split.Platform,
			PayeeShare:    split.Payee,
			PaymentCount:  count,
			NextPaymentAt: next,
			Remaining:     remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) payerAgreement(kv state.KV, agreement, payer crypto.Address, out *outbox) (*Agreement, error) {
	ag, err := e.loadAgreement(kv, agreement, out)
	if err != nil {
		return nil, err
	}
	if ag.Payer != payer {
		return nil, fmt.Errorf("%w: agreement payer required", ErrUnauthorized)
	}
	return ag, nil
}

func (e *Engine) fundingKey(kv state.KV, agreement crypto.Address) crypto.Address {
	ag := new(Agreement)
	if err := state.Fetch(kv, agreement, ag); err != nil {
		return crypto.Address{}
	}
	return ag.FundingAccount
}

// Pause deactivates an agreement. The delegate's allowance stays in place
// unless revoke is set, in which case it is cleared in the same transaction.
// Revoking affects every agreement sharing the funding account.
func (e *Engine) Pause(payer, agreement crypto.Address, revoke bool) error {
	plan := func(kv state.KV) ([]string, error) {
		return lockKeys(agreement, e.fundingKey(kv, agreement)), nil
	}
	return e.planned(plan, func(tx *state.Tx, held heldKeys, out *outbox) error {
		ag, err := e.payerAgreement(tx, agreement, payer, out)
		if err != nil {
			return err
		}
		if !ag.Active {
			return fmt.Errorf("%w: %s already paused", ErrAgreementInactive, agreement)
		}
		ag.Active = false
		if err := e.store(tx, agreement, ag); err != nil {
			return err
		}
		if revoke {
			if err := requireHeld(held, ag.FundingAccount); err != nil {
				return err
			}
			if err := e.ledger.Revoke(tx, payer, ag.FundingAccount); err != nil {
				return mapBankErr(err)
			}
			out.emit(AllowanceRevoked{FundingAccount: ag.FundingAccount, Owner: payer})
		}
		out.emit(AgreementPaused{Agreement: agreement, Payer: payer, AllowanceRevoked: revoke})
		return nil
	})
}

// Resume reactivates a paused agreement and re-approves the delegate for
// allowancePeriods charges (the agreement's original multiplier when zero).
// The next payment moves to now if it fell in the past; the payment count is
// kept.
func (e *Engine) Resume(payer, agreement crypto.Address, allowancePeriods uint64) (*Agreement, error) {
	plan := func(kv state.KV) ([]string, error) {
		return lockKeys(agreement, e.fundingKey(kv, agreement)), nil
	}
	var resumed *Agreement
	err := e.planned(plan, func(tx *state.Tx, held heldKeys, out *outbox) error {
		if _, err := e.loadActiveConfig(tx); err != nil {
			return err
		}
		ag, err := e.payerAgreement(tx, agreement, payer, out)
		if err != nil {
			return err
		}
		if ag.Active {
			return fmt.Errorf("%w: %s", ErrAlreadyActive, agreement)
		}
		if err := requireHeld(held, ag.FundingAccount); err != nil {
			return err
		}
		if _, err := e.loadTerms(tx, ag.Terms, out); err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, ag.FundingAccount, payer, agreement, "funding_account", out); err != nil {
			return err
		}
		periods := allowancePeriods
		if periods == 0 {
			periods = ag.AllowancePeriods
		}
		allowance, err := allowanceCap(ag.Amount, periods)
		if err != nil {
			return err
		}
		if err := e.signer.Approve(tx, DelegateSeeds(), payer, ag.FundingAccount, allowance); err != nil {
			return mapBankErr(err)
		}
		now := e.now()
		if ag.NextPaymentAt < now {
			ag.NextPaymentAt = now
		}
		ag.Active = true
		ag.AllowancePeriods = periods
		if err := e.store(tx, agreement, ag); err != nil {
			return err
		}
		resumed = ag
		out.emit(AllowanceGranted{FundingAccount: ag.FundingAccount, Owner: payer, Delegate: DelegateAddress(), Cap: allowance})
		out.emit(AgreementResumed{Agreement: agreement, Payer: payer, Allowance: allowance, NextPaymentAt: ag.NextPaymentAt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resumed, nil
}

// Close deletes a paused agreement and refunds its storage deposit to the
// payer.
func (e *Engine) Close(payer, agreement crypto.Address) (*ReclaimedResource, error) {
	plan := func(kv state.KV) ([]string, error) {
		ag := new(Agreement)
		keys := lockKeys(agreement, payer)
		if err := state.Fetch(kv, agreement, ag); err == nil {
			keys = append(keys, lockKeys(ag.Terms)...)
		}
		return append(keys, lockAllAgreements), nil
	}
	var reclaimed *ReclaimedResource
	err := e.planned(plan, func(tx *state.Tx, held heldKeys, out *outbox) error {
		ag, err := e.payerAgreement(tx, agreement, payer, out)
		if err != nil {
			return err
		}
		if ag.Active {
			return fmt.Errorf("%w: pause %s before closing", ErrStillActive, agreement)
		}
		if err := requireHeld(held, ag.Terms); err != nil {
			return err
		}
		if err := state.Remove(tx, agreement, KindAgreement); err != nil {
			return err
		}
		if err := state.KVSetRemove(tx, agreementsByTermsKey(ag.Terms), agreement[:]); err != nil {
			return err
		}
		if err := state.KVSetRemove(tx, agreementsByPayerKey(payer), agreement[:]); err != nil {
			return err
		}
		if err := state.KVSetRemove(tx, indexAllAgreements, agreement[:]); err != nil {
			return err
		}
		if err := e.ledger.CreditNative(tx, payer, ag.Deposit); err != nil {
			return mapBankErr(err)
		}
		reclaimed = &ReclaimedResource{Agreement: agreement, Payer: payer, Deposit: ag.Deposit}
		out.emit(AgreementClosed{Agreement: agreement, Payer: payer, Reclaimed: ag.Deposit, PaymentCount: ag.PaymentCount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

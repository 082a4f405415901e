package subscription

import (
	"fmt"

	"tally/core/state"
	"tally/crypto"
)

func checkFeeBounds(cfg *Config, feeBps uint32) error {
	if feeBps < cfg.MinPlatformFeeBps || feeBps > cfg.MaxPlatformFeeBps {
		return invalidParam("fee_bps", fmt.Sprintf("must be within [%d, %d]", cfg.MinPlatformFeeBps, cfg.MaxPlatformFeeBps))
	}
	return nil
}

// InitPayee registers authority as a payee receiving funds in destination,
// a funding account the authority owns.
func (e *Engine) InitPayee(authority, destination crypto.Address, feeBps uint32) (crypto.Address, error) {
	if authority.IsZero() {
		return crypto.Address{}, invalidParam("authority", "required")
	}
	at := PayeeAddress(authority)
	err := e.atomic(lockKeys(at, authority), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadActiveConfig(tx)
		if err != nil {
			return err
		}
		if err := checkFeeBounds(cfg, feeBps); err != nil {
			return err
		}
		if _, err := e.ownedAccount(tx, destination, authority, at, "payee_destination", out); err != nil {
			return err
		}
		rec := &Payee{Authority: authority, Destination: destination, FeeBps: feeBps, CreatedAt: e.now()}
		if err := e.create(tx, at, authority, rec, func(d uint64) { rec.Deposit = d }); err != nil {
			return err
		}
		out.emit(PayeeInitialized{Payee: at, Record: rec.Clone()})
		return nil
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return at, nil
}

// UpdatePayeeFee changes the platform fee charged to a payee. The payee
// authority and the platform authority may both call it; the rate must stay
// within the configured bounds.
func (e *Engine) UpdatePayeeFee(caller, payee crypto.Address, feeBps uint32) error {
	return e.atomic(lockKeys(payee), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadConfig(tx)
		if err != nil {
			return err
		}
		rec, err := e.loadPayee(tx, payee, out)
		if err != nil {
			return err
		}
		if caller != rec.Authority && caller != cfg.PlatformAuthority {
			return fmt.Errorf("%w: payee or platform authority required", ErrUnauthorized)
		}
		if err := checkFeeBounds(cfg, feeBps); err != nil {
			return err
		}
		old := rec.FeeBps
		rec.FeeBps = feeBps
		if err := e.store(tx, payee, rec); err != nil {
			return err
		}
		out.emit(PayeeFeeUpdated{Payee: payee, OldFeeBps: old, NewFeeBps: feeBps, UpdatedBy: caller})
		return nil
	})
}

func validateTerms(cfg *Config, amount, period, grace uint64) error {
	if amount == 0 {
		return invalidParam("amount", "must be positive")
	}
	if period < cfg.MinPeriodSecs {
		return invalidParam("period_secs", fmt.Sprintf("must be at least %d", cfg.MinPeriodSecs))
	}
	if grace > cfg.MaxGraceSecs {
		return invalidParam("grace_secs", fmt.Sprintf("must be at most %d", cfg.MaxGraceSecs))
	}
	if grace > period {
		return invalidParam("grace_secs", "must not exceed the period")
	}
	return nil
}

// CreateTerms publishes new terms under a payee owned by authority.
func (e *Engine) CreateTerms(authority, payee crypto.Address, params TermsParams) (crypto.Address, error) {
	at, err := TermsAddress(payee, params.ID)
	if err != nil {
		return crypto.Address{}, err
	}
	err = e.atomic(lockKeys(at, payee, authority), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadActiveConfig(tx)
		if err != nil {
			return err
		}
		owner, err := e.loadPayee(tx, payee, out)
		if err != nil {
			return err
		}
		if owner.Authority != authority {
			return fmt.Errorf("%w: payee authority required", ErrUnauthorized)
		}
		if err := validateTerms(cfg, params.Amount, params.PeriodSecs, params.GraceSecs); err != nil {
			return err
		}
		rec := &Terms{
			Payee:      payee,
			ID:         params.ID,
			Amount:     params.Amount,
			PeriodSecs: params.PeriodSecs,
			GraceSecs:  params.GraceSecs,
			Active:     true,
			CreatedAt:  e.now(),
		}
		if err := e.create(tx, at, authority, rec, func(d uint64) { rec.Deposit = d }); err != nil {
			return err
		}
		if err := state.KVSetAdd(tx, termsIndexKey(payee), at[:]); err != nil {
			return err
		}
		out.emit(TermsCreated{Terms: at, Record: rec.Clone()})
		return nil
	})
	if err != nil {
		return crypto.Address{}, err
	}
	return at, nil
}

// UpdateTerms changes price, period or grace of existing terms. Running
// agreements keep their snapshot; a lower price applies to them on their
// next charge.
func (e *Engine) UpdateTerms(authority, terms crypto.Address, update TermsUpdate) (*Terms, error) {
	if update.Amount == nil && update.PeriodSecs == nil && update.GraceSecs == nil {
		return nil, invalidParam("update", "no fields to update")
	}
	var updated *Terms
	err := e.atomic(lockKeys(terms), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		cfg, err := e.loadConfig(tx)
		if err != nil {
			return err
		}
		rec, err := e.termsForAuthority(tx, terms, authority, out)
		if err != nil {
			return err
		}
		if update.Amount != nil {
			rec.Amount = *update.Amount
		}
		if update.PeriodSecs != nil {
			rec.PeriodSecs = *update.PeriodSecs
		}
		if update.GraceSecs != nil {
			rec.GraceSecs = *update.GraceSecs
		}
		if err := validateTerms(cfg, rec.Amount, rec.PeriodSecs, rec.GraceSecs); err != nil {
			return err
		}
		if err := e.store(tx, terms, rec); err != nil {
			return err
		}
		updated = rec
		out.emit(TermsUpdated{Terms: terms, Record: rec.Clone()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeactivateTerms stops terms from accepting new agreements. Existing
// agreements keep charging.
func (e *Engine) DeactivateTerms(authority, terms crypto.Address) error {
	return e.atomic(lockKeys(terms), func(tx *state.Tx, _ heldKeys, out *outbox) error {
		rec, err := e.termsForAuthority(tx, terms, authority, out)
		if err != nil {
			return err
		}
		if !rec.Active {
			return ErrTermsInactive
		}
		rec.Active = false
		if err := e.store(tx, terms, rec); err != nil {
			return err
		}
		out.emit(TermsDeactivated{Terms: terms, Record: rec.Clone()})
		return nil
	})
}

func (e *Engine) termsForAuthority(kv state.KV, terms, authority crypto.Address, out *outbox) (*Terms, error) {
	rec, err := e.loadTerms(kv, terms, out)
	if err != nil {
		return nil, err
	}
	owner, err := e.loadPayee(kv, rec.Payee, out)
	if err != nil {
		return nil, err
	}
	if owner.Authority != authority {
		return nil, fmt.Errorf("%w: payee authority required", ErrUnauthorized)
	}
	return rec, nil
}

package subscription

import (
	"fmt"
	"sort"

	"tally/core/state"
	"tally/crypto"
	"tally/native/bank"
)

func (e *Engine) view() (state.KV, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.View(), nil
}

// FetchConfig returns the program configuration.
func (e *Engine) FetchConfig() (*Config, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.loadConfig(kv)
}

// FetchPayee returns the payee stored at the address.
func (e *Engine) FetchPayee(payee crypto.Address) (*Payee, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.loadPayee(kv, payee, nil)
}

// FetchTerms returns the terms stored at the address.
func (e *Engine) FetchTerms(terms crypto.Address) (*Terms, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.loadTerms(kv, terms, nil)
}

// FetchAgreement returns the agreement stored at the address.
func (e *Engine) FetchAgreement(agreement crypto.Address) (*Agreement, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	return e.loadAgreement(kv, agreement, nil)
}

// FetchFundingAccount returns a funding account.
func (e *Engine) FetchFundingAccount(account crypto.Address) (*bank.FundingAccount, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	acct, err := e.ledger.Account(kv, account)
	if err != nil {
		return nil, mapBankErr(err)
	}
	return acct, nil
}

// DepositBalance returns the native balance available for storage deposits.
func (e *Engine) DepositBalance(holder crypto.Address) (uint64, error) {
	kv, err := e.view()
	if err != nil {
		return 0, err
	}
	return e.ledger.NativeBalance(kv, holder)
}

func membersToAddresses(members [][]byte) []crypto.Address {
	out := make([]crypto.Address, 0, len(members))
	for _, m := range members {
		if a, err := crypto.BytesToAddress(m); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) members(key []byte) ([]crypto.Address, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	members, err := state.KVSetMembers(kv, key)
	if err != nil {
		return nil, err
	}
	return membersToAddresses(members), nil
}

// ListTerms returns the terms published by payee in address order.
func (e *Engine) ListTerms(payee crypto.Address) ([]crypto.Address, error) {
	return e.members(termsIndexKey(payee))
}

// ListAgreements returns the agreements referencing terms.
func (e *Engine) ListAgreements(terms crypto.Address) ([]crypto.Address, error) {
	return e.members(agreementsByTermsKey(terms))
}

// ListAgreementsByPayer returns the agreements signed by payer.
func (e *Engine) ListAgreementsByPayer(payer crypto.Address) ([]crypto.Address, error) {
	return e.members(agreementsByPayerKey(payer))
}

// DueAgreement pairs an agreement address with its record.
type DueAgreement struct {
	Address   crypto.Address
	Agreement *Agreement
}

// DueAgreements returns up to limit active agreements whose next payment is
// at or before now, oldest first. A zero limit returns all of them.
func (e *Engine) DueAgreements(now uint64, limit int) ([]DueAgreement, error) {
	kv, err := e.view()
	if err != nil {
		return nil, err
	}
	members, err := state.KVSetMembers(kv, indexAllAgreements)
	if err != nil {
		return nil, err
	}
	var due []DueAgreement
	for _, at := range membersToAddresses(members) {
		ag, err := e.loadAgreement(kv, at, nil)
		if err != nil {
			if Classify(err) == CategoryInfrastructure {
				return nil, fmt.Errorf("subscription engine: load agreement %s: %w", at, err)
			}
			e.logger.Warn("subscription engine: skipping unreadable agreement",
				"agreement", at.String(), "category", string(Classify(err)), "error", err)
			continue
		}
		if ag.Active && ag.NextPaymentAt <= now && ag.LastPaymentAt < now {
			due = append(due, DueAgreement{Address: at, Agreement: ag})
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Agreement.NextPaymentAt < due[j].Agreement.NextPaymentAt
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Status classifies an agreement at now. With a grace window a missed
// payment is in grace until NextPaymentAt+grace and lapsed afterwards;
// without one it stays due for a full period.
func (e *Engine) Status(agreement crypto.Address, now uint64) (ScheduleStatus, error) {
	kv, err := e.view()
	if err != nil {
		return "", err
	}
	ag, err := e.loadAgreement(kv, agreement, nil)
	if err != nil {
		return "", err
	}
	terms, err := e.loadTerms(kv, ag.Terms, nil)
	if err != nil {
		return "", err
	}
	return ScheduleOf(ag, terms.GraceSecs, now), nil
}

// ScheduleOf classifies ag at now given the grace window of its terms.
func ScheduleOf(ag *Agreement, graceSecs, now uint64) ScheduleStatus {
	switch {
	case ag == nil:
		return ""
	case !ag.Active:
		return StatusPaused
	case now < ag.NextPaymentAt:
		return StatusCurrent
	}
	late := now - ag.NextPaymentAt
	if graceSecs > 0 {
		if late < graceSecs {
			return StatusInGrace
		}
		return StatusLapsed
	}
	if late < ag.PeriodSecs {
		return StatusDue
	}
	return StatusLapsed
}

package subscription

import (
	"strconv"

	"tally/core/types"
	"tally/crypto"
)

const (
	EventTypeConfigInitialized        = "subscription.config.initialized"
	EventTypeConfigUpdated            = "subscription.config.updated"
	EventTypePayeeInitialized         = "subscription.payee.initialized"
	EventTypePayeeFeeUpdated          = "subscription.payee.fee_updated"
	EventTypeTermsCreated             = "subscription.terms.created"
	EventTypeTermsUpdated             = "subscription.terms.updated"
	EventTypeTermsDeactivated         = "subscription.terms.deactivated"
	EventTypeAgreementStarted         = "subscription.agreement.started"
	EventTypePaymentExecuted          = "subscription.payment.executed"
	EventTypeAgreementPaused          = "subscription.agreement.paused"
	EventTypeAgreementResumed         = "subscription.agreement.resumed"
	EventTypeAgreementClosed          = "subscription.agreement.closed"
	EventTypePaymentFailed            = "subscription.payment.failed"
	EventTypeLowAllowanceWarning      = "subscription.allowance.low"
	EventTypeAuthorityMismatchWarning = "subscription.authority.mismatch"
	EventTypeAllowanceGranted         = "subscription.allowance.granted"
	EventTypeAllowanceRevoked         = "subscription.allowance.revoked"
)

// Failure reasons carried by PaymentFailed.
const (
	ReasonAllowanceExceeded = "allowance_exceeded"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonAuthorityMismatch = "authority_mismatch"
	ReasonArithmeticFault   = "arithmetic_fault"
)

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func addrAttr(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

// ConfigInitialized is emitted once when the program is configured.
type ConfigInitialized struct {
	Config *Config
}

func (ConfigInitialized) EventType() string { return EventTypeConfigInitialized }

func (e ConfigInitialized) Event() *types.Event { return configEvent(EventTypeConfigInitialized, e.Config) }

// ConfigUpdated is emitted after the platform authority changes the config.
type ConfigUpdated struct {
	Config *Config
}

func (ConfigUpdated) EventType() string { return EventTypeConfigUpdated }

func (e ConfigUpdated) Event() *types.Event { return configEvent(EventTypeConfigUpdated, e.Config) }

func configEvent(eventType string, cfg *Config) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["platformAuthority"] = addrAttr(cfg.PlatformAuthority)
		attrs["platformDestination"] = addrAttr(cfg.PlatformDestination)
		attrs["minPlatformFeeBps"] = u64(uint64(cfg.MinPlatformFeeBps))
		attrs["maxPlatformFeeBps"] = u64(uint64(cfg.MaxPlatformFeeBps))
		attrs["keeperFeeBps"] = u64(uint64(cfg.KeeperFeeBps))
		attrs["minPeriodSecs"] = u64(cfg.MinPeriodSecs)
		attrs["paused"] = strconv.FormatBool(cfg.Paused)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// PayeeInitialized is emitted when a payee record is created.
type PayeeInitialized struct {
	Payee  crypto.Address
	Record *Payee
}

func (PayeeInitialized) EventType() string { return EventTypePayeeInitialized }

func (e PayeeInitialized) Event() *types.Event {
	attrs := map[string]string{"payee": addrAttr(e.Payee)}
	if e.Record != nil {
		attrs["authority"] = addrAttr(e.Record.Authority)
		attrs["destination"] = addrAttr(e.Record.Destination)
		attrs["feeBps"] = u64(uint64(e.Record.FeeBps))
	}
	return &types.Event{Type: EventTypePayeeInitialized, Attributes: attrs}
}

// PayeeFeeUpdated is emitted when a payee's platform fee rate changes.
type PayeeFeeUpdated struct {
	Payee     crypto.Address
	OldFeeBps uint32
	NewFeeBps uint32
	UpdatedBy crypto.Address
}

func (PayeeFeeUpdated) EventType() string { return EventTypePayeeFeeUpdated }

func (e PayeeFeeUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypePayeeFeeUpdated, Attributes: map[string]string{
		"payee":     addrAttr(e.Payee),
		"oldFeeBps": u64(uint64(e.OldFeeBps)),
		"newFeeBps": u64(uint64(e.NewFeeBps)),
		"updatedBy": addrAttr(e.UpdatedBy),
	}}
}

// TermsCreated is emitted when a payee publishes new terms.
type TermsCreated struct {
	Terms  crypto.Address
	Record *Terms
}

func (TermsCreated) EventType() string { return EventTypeTermsCreated }

func (e TermsCreated) Event() *types.Event { return termsEvent(EventTypeTermsCreated, e.Terms, e.Record) }

// TermsUpdated is emitted when price, period or grace of terms change.
type TermsUpdated struct {
	Terms  crypto.Address
	Record *Terms
}

func (TermsUpdated) EventType() string { return EventTypeTermsUpdated }

func (e TermsUpdated) Event() *types.Event { return termsEvent(EventTypeTermsUpdated, e.Terms, e.Record) }

// TermsDeactivated is emitted when terms stop accepting new agreements.
type TermsDeactivated struct {
	Terms  crypto.Address
	Record *Terms
}

func (TermsDeactivated) EventType() string { return EventTypeTermsDeactivated }

func (e TermsDeactivated) Event() *types.Event {
	return termsEvent(EventTypeTermsDeactivated, e.Terms, e.Record)
}

func termsEvent(eventType string, terms crypto.Address, rec *Terms) *types.Event {
	attrs := map[string]string{"terms": addrAttr(terms)}
	if rec != nil {
		attrs["payee"] = addrAttr(rec.Payee)
		attrs["termsId"] = rec.ID
		attrs["amount"] = u64(rec.Amount)
		attrs["periodSecs"] = u64(rec.PeriodSecs)
		attrs["graceSecs"] = u64(rec.GraceSecs)
		attrs["active"] = strconv.FormatBool(rec.Active)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// AgreementStarted is emitted when an agreement becomes active for the
// first time.
type AgreementStarted struct {
	Agreement     crypto.Address
	Payer         crypto.Address
	Terms         crypto.Address
	Payee         crypto.Address
	Amount        uint64
	PeriodSecs    uint64
	Allowance     uint64
	Charged       uint64
	NextPaymentAt uint64
}

func (AgreementStarted) EventType() string { return EventTypeAgreementStarted }

func (e AgreementStarted) Event() *types.Event {
	return &types.Event{Type: EventTypeAgreementStarted, Attributes: map[string]string{
		"agreement":     addrAttr(e.Agreement),
		"payer":         addrAttr(e.Payer),
		"terms":         addrAttr(e.Terms),
		"payee":         addrAttr(e.Payee),
		"amount":        u64(e.Amount),
		"periodSecs":    u64(e.PeriodSecs),
		"allowance":     u64(e.Allowance),
		"charged":       u64(e.Charged),
		"nextPaymentAt": u64(e.NextPaymentAt),
	}}
}

// PaymentExecuted is emitted after every successful charge.
type PaymentExecuted struct {
	Agreement     crypto.Address
	Payer         crypto.Address
	Payee         crypto.Address
	Keeper        crypto.Address
	Amount        uint64
	KeeperFee     uint64
	PlatformFee   uint64
	PayeeShare    uint64
	PaymentCount  uint64
	PaidAt        uint64
	NextPaymentAt uint64
}

func (PaymentExecuted) EventType() string { return EventTypePaymentExecuted }

func (e PaymentExecuted) Event() *types.Event {
	return &types.Event{Type: EventTypePaymentExecuted, Attributes: map[string]string{
		"agreement":     addrAttr(e.Agreement),
		"payer":         addrAttr(e.Payer),
		"payee":         addrAttr(e.Payee),
		"keeper":        addrAttr(e.Keeper),
		"amount":        u64(e.Amount),
		"keeperFee":     u64(e.KeeperFee),
		"platformFee":   u64(e.PlatformFee),
		"payeeShare":    u64(e.PayeeShare),
		"paymentCount":  u64(e.PaymentCount),
		"paidAt":        u64(e.PaidAt),
		"nextPaymentAt": u64(e.NextPaymentAt),
	}}
}

// AgreementPaused is emitted when a payer pauses an agreement.
type AgreementPaused struct {
	Agreement        crypto.Address
	Payer            crypto.Address
	AllowanceRevoked bool
}

func (AgreementPaused) EventType() string { return EventTypeAgreementPaused }

func (e AgreementPaused) Event() *types.Event {
	return &types.Event{Type: EventTypeAgreementPaused, Attributes: map[string]string{
		"agreement":        addrAttr(e.Agreement),
		"payer":            addrAttr(e.Payer),
		"allowanceRevoked": strconv.FormatBool(e.AllowanceRevoked),
	}}
}

// AgreementResumed is emitted when a paused agreement becomes active again.
type AgreementResumed struct {
	Agreement     crypto.Address
	Payer         crypto.Address
	Allowance     uint64
	NextPaymentAt uint64
}

func (AgreementResumed) EventType() string { return EventTypeAgreementResumed }

func (e AgreementResumed) Event() *types.Event {
	return &types.Event{Type: EventTypeAgreementResumed, Attributes: map[string]string{
		"agreement":     addrAttr(e.Agreement),
		"payer":         addrAttr(e.Payer),
		"allowance":     u64(e.Allowance),
		"nextPaymentAt": u64(e.NextPaymentAt),
	}}
}

// AgreementClosed is emitted when an agreement record is deleted.
type AgreementClosed struct {
	Agreement    crypto.Address
	Payer        crypto.Address
	Reclaimed    uint64
	PaymentCount uint64
}

func (AgreementClosed) EventType() string { return EventTypeAgreementClosed }

func (e AgreementClosed) Event() *types.Event {
	return &types.Event{Type: EventTypeAgreementClosed, Attributes: map[string]string{
		"agreement":    addrAttr(e.Agreement),
		"payer":        addrAttr(e.Payer),
		"reclaimed":    u64(e.Reclaimed),
		"paymentCount": u64(e.PaymentCount),
	}}
}

// PaymentFailed is emitted when a charge is rejected for an authorization
// or arithmetic reason. Timing and state rejections are not reported.
type PaymentFailed struct {
	Agreement crypto.Address
	Payer     crypto.Address
	Amount    uint64
	Reason    string
}

func (PaymentFailed) EventType() string { return EventTypePaymentFailed }

func (e PaymentFailed) Event() *types.Event {
	return &types.Event{Type: EventTypePaymentFailed, Attributes: map[string]string{
		"agreement": addrAttr(e.Agreement),
		"payer":     addrAttr(e.Payer),
		"amount":    u64(e.Amount),
		"reason":    e.Reason,
	}}
}

// LowAllowanceWarning signals that the shared allowance of a funding account
// is close to or past exhaustion.
type LowAllowanceWarning struct {
	Agreement      crypto.Address
	Payer          crypto.Address
	FundingAccount crypto.Address
	Remaining      uint64
	Required       uint64
}

func (LowAllowanceWarning) EventType() string { return EventTypeLowAllowanceWarning }

func (e LowAllowanceWarning) Event() *types.Event {
	return &types.Event{Type: EventTypeLowAllowanceWarning, Attributes: map[string]string{
		"agreement":      addrAttr(e.Agreement),
		"payer":          addrAttr(e.Payer),
		"fundingAccount": addrAttr(e.FundingAccount),
		"remaining":      u64(e.Remaining),
		"required":       u64(e.Required),
	}}
}

// AuthorityMismatchWarning reports a reference or ownership check that
// failed.
type AuthorityMismatchWarning struct {
	Reference crypto.Address
	Field     string
	Expected  crypto.Address
	Actual    crypto.Address
}

func (AuthorityMismatchWarning) EventType() string { return EventTypeAuthorityMismatchWarning }

func (e AuthorityMismatchWarning) Event() *types.Event {
	return &types.Event{Type: EventTypeAuthorityMismatchWarning, Attributes: map[string]string{
		"reference": addrAttr(e.Reference),
		"field":     e.Field,
		"expected":  addrAttr(e.Expected),
		"actual":    addrAttr(e.Actual),
	}}
}

// AllowanceGranted is emitted when a payer approves the shared delegate.
type AllowanceGranted struct {
	FundingAccount crypto.Address
	Owner          crypto.Address
	Delegate       crypto.Address
	Cap            uint64
}

func (AllowanceGranted) EventType() string { return EventTypeAllowanceGranted }

func (e AllowanceGranted) Event() *types.Event {
	return &types.Event{Type: EventTypeAllowanceGranted, Attributes: map[string]string{
		"fundingAccount": addrAttr(e.FundingAccount),
		"owner":          addrAttr(e.Owner),
		"delegate":       addrAttr(e.Delegate),
		"cap":            u64(e.Cap),
	}}
}

// AllowanceRevoked is emitted when a payer clears the delegate.
type AllowanceRevoked struct {
	FundingAccount crypto.Address
	Owner          crypto.Address
}

func (AllowanceRevoked) EventType() string { return EventTypeAllowanceRevoked }

func (e AllowanceRevoked) Event() *types.Event {
	return &types.Event{Type: EventTypeAllowanceRevoked, Attributes: map[string]string{
		"fundingAccount": addrAttr(e.FundingAccount),
		"owner":          addrAttr(e.Owner),
	}}
}

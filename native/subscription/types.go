package subscription

import (
	"tally/core/state"
	"tally/crypto"
)

// Record kinds owned by the subscription program.
const (
	KindConfig    state.RecordKind = 0x20
	KindPayee     state.RecordKind = 0x21
	KindTerms     state.RecordKind = 0x22
	KindAgreement state.RecordKind = 0x23
)

const (
	configVersion    = 1
	payeeVersion     = 1
	termsVersion     = 1
	agreementVersion = 1
)

const (
	// BasisPointsDenominator is the divisor applied to every fee rate.
	BasisPointsDenominator = 10_000
	// MinPeriodFloor is the shortest period any configuration may allow.
	MinPeriodFloor = 86_400
	// MaxTermsIDLength bounds the opaque terms identifier.
	MaxTermsIDLength = 32
	// DefaultAllowancePeriods is the allowance multiplier used when neither
	// the caller nor the configuration supplies one.
	DefaultAllowancePeriods = 3
	// DefaultLowAllowancePeriods is the remaining-allowance threshold, in
	// periods, under which a LowAllowanceWarning is emitted.
	DefaultLowAllowancePeriods = 2
)

// Config is the program singleton.
type Config struct {
	PlatformAuthority       crypto.Address
	PlatformDestination     crypto.Address
	MinPlatformFeeBps       uint32
	MaxPlatformFeeBps       uint32
	KeeperFeeBps            uint32
	MinPeriodSecs           uint64
	DefaultAllowancePeriods uint64
	MaxGraceSecs            uint64
	Paused                  bool
	CreatedAt               uint64
}

func (Config) RecordKind() state.RecordKind { return KindConfig }
func (Config) RecordVersion() uint8         { return configVersion }

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Payee is the receiving side of agreements. Its address is derived from
// the authority.
type Payee struct {
	Authority   crypto.Address
	Destination crypto.Address
	FeeBps      uint32
	CreatedAt   uint64
	Deposit     uint64
}

func (Payee) RecordKind() state.RecordKind { return KindPayee }
func (Payee) RecordVersion() uint8         { return payeeVersion }

// Clone returns a copy of the payee.
func (p *Payee) Clone() *Payee {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Terms is a price and period offered by a payee.
type Terms struct {
	Payee      crypto.Address
	ID         string
	Amount     uint64
	PeriodSecs uint64
	GraceSecs  uint64
	Active     bool
	CreatedAt  uint64
	Deposit    uint64
}

func (Terms) RecordKind() state.RecordKind { return KindTerms }
func (Terms) RecordVersion() uint8         { return termsVersion }

// Clone returns a copy of the terms.
func (t *Terms) Clone() *Terms {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Agreement tracks one payer's relationship with one set of terms. Amount
// and PeriodSecs are snapshotted from the terms when the agreement starts.
type Agreement struct {
	Payer            crypto.Address
	Terms            crypto.Address
	FundingAccount   crypto.Address
	Amount           uint64
	PeriodSecs       uint64
	AllowancePeriods uint64
	NextPaymentAt    uint64
	LastPaymentAt    uint64
	LastAmount       uint64
	PaymentCount     uint64
	CreatedAt        uint64
	Active           bool
	Deposit          uint64
}

func (Agreement) RecordKind() state.RecordKind { return KindAgreement }
func (Agreement) RecordVersion() uint8         { return agreementVersion }

// Clone returns a copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// ConfigParams are the values supplied to InitConfig.
type ConfigParams struct {
	PlatformAuthority       crypto.Address
	PlatformDestination     crypto.Address
	MinPlatformFeeBps       uint32
	MaxPlatformFeeBps       uint32
	KeeperFeeBps            uint32
	MinPeriodSecs           uint64
	DefaultAllowancePeriods uint64
	MaxGraceSecs            uint64
}

// ConfigUpdate carries the optional fields of UpdateConfig. Nil fields are
// left unchanged.
type ConfigUpdate struct {
	KeeperFeeBps        *uint32
	MinPlatformFeeBps   *uint32
	MaxPlatformFeeBps   *uint32
	PlatformDestination *crypto.Address
	Paused              *bool
}

// TermsParams are the values supplied to CreateTerms.
type TermsParams struct {
	ID         string
	Amount     uint64
	PeriodSecs uint64
	GraceSecs  uint64
}

// TermsUpdate carries the optional fields of UpdateTerms.
type TermsUpdate struct {
	Amount     *uint64
	PeriodSecs *uint64
	GraceSecs  *uint64
}

// StartParams are the values supplied to Start.
type StartParams struct {
	Terms            crypto.Address
	FundingAccount   crypto.Address
	AllowancePeriods uint64
	TrialSecs        uint64
}

// ExecutionResult describes a successful charge.
type ExecutionResult struct {
	Agreement     crypto.Address
	Amount        uint64
	KeeperFee     uint64
	PlatformFee   uint64
	PayeeShare    uint64
	PaymentCount  uint64
	NextPaymentAt uint64
	Remaining     uint64
}

// ReclaimedResource is returned by Close.
type ReclaimedResource struct {
	Agreement crypto.Address
	Payer     crypto.Address
	Deposit   uint64
}

// ScheduleStatus classifies an agreement relative to a point in time.
type ScheduleStatus string

const (
	StatusCurrent ScheduleStatus = "current"
	StatusDue     ScheduleStatus = "due"
	StatusInGrace ScheduleStatus = "in_grace"
	StatusLapsed  ScheduleStatus = "lapsed"
	StatusPaused  ScheduleStatus = "paused"
)

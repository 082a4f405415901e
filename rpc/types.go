package rpc

import (
	"strings"

	"tally/crypto"
	"tally/native/bank"
	"tally/native/subscription"
)

func addrString(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func decodeAddress(field, value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, invalidParams(field+" is required", nil)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, invalidParams("invalid "+field+" address", err)
	}
	return addr, nil
}

func decodeOptionalAddress(field, value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, nil
	}
	return decodeAddress(field, value)
}

type ConfigResult struct {
	PlatformAuthority       string `json:"platformAuthority"`
	PlatformDestination     string `json:"platformDestination"`
	MinPlatformFeeBps       uint32 `json:"minPlatformFeeBps"`
	MaxPlatformFeeBps       uint32 `json:"maxPlatformFeeBps"`
	KeeperFeeBps            uint32 `json:"keeperFeeBps"`
	MinPeriodSecs           uint64 `json:"minPeriodSecs"`
	DefaultAllowancePeriods uint64 `json:"defaultAllowancePeriods"`
	MaxGraceSecs            uint64 `json:"maxGraceSecs"`
	Paused                  bool   `json:"paused"`
	CreatedAt               uint64 `json:"createdAt"`
}

func configResult(cfg *subscription.Config) ConfigResult {
	return ConfigResult{
		PlatformAuthority:       addrString(cfg.PlatformAuthority),
		PlatformDestination:     addrString(cfg.PlatformDestination),
		MinPlatformFeeBps:       cfg.MinPlatformFeeBps,
		MaxPlatformFeeBps:       cfg.MaxPlatformFeeBps,
		KeeperFeeBps:            cfg.KeeperFeeBps,
		MinPeriodSecs:           cfg.MinPeriodSecs,
		DefaultAllowancePeriods: cfg.DefaultAllowancePeriods,
		MaxGraceSecs:            cfg.MaxGraceSecs,
		Paused:                  cfg.Paused,
		CreatedAt:               cfg.CreatedAt,
	}
}

type PayeeResult struct {
	Address     string `json:"address"`
	Authority   string `json:"authority"`
	Destination string `json:"destination"`
	FeeBps      uint32 `json:"feeBps"`
	CreatedAt   uint64 `json:"createdAt"`
	Deposit     uint64 `json:"deposit"`
}

func payeeResult(at crypto.Address, p *subscription.Payee) PayeeResult {
	return PayeeResult{
		Address:     addrString(at),
		Authority:   addrString(p.Authority),
		Destination: addrString(p.Destination),
		FeeBps:      p.FeeBps,
		CreatedAt:   p.CreatedAt,
		Deposit:     p.Deposit,
	}
}

type TermsResult struct {
	Address    string `json:"address"`
	Payee      string `json:"payee"`
	ID         string `json:"id"`
	Amount     uint64 `json:"amount"`
	PeriodSecs uint64 `json:"periodSecs"`
	GraceSecs  uint64 `json:"graceSecs"`
	Active     bool   `json:"active"`
	CreatedAt  uint64 `json:"createdAt"`
	Deposit    uint64 `json:"deposit"`
}

func termsResult(at crypto.Address, t *subscription.Terms) TermsResult {
	return TermsResult{
		Address:    addrString(at),
		Payee:      addrString(t.Payee),
		ID:         t.ID,
		Amount:     t.Amount,
		PeriodSecs: t.PeriodSecs,
		GraceSecs:  t.GraceSecs,
		Active:     t.Active,
		CreatedAt:  t.CreatedAt,
		Deposit:    t.Deposit,
	}
}

type AgreementResult struct {
	Address          string `json:"address"`
	Payer            string `json:"payer"`
	Terms            string `json:"terms"`
	FundingAccount   string `json:"fundingAccount"`
	Amount           uint64 `json:"amount"`
	PeriodSecs       uint64 `json:"periodSecs"`
	AllowancePeriods uint64 `json:"allowancePeriods"`
	NextPaymentAt    uint64 `json:"nextPaymentAt"`
	LastPaymentAt    uint64 `json:"lastPaymentAt"`
	LastAmount       uint64 `json:"lastAmount"`
	PaymentCount     uint64 `json:"paymentCount"`
	CreatedAt        uint64 `json:"createdAt"`
	Active           bool   `json:"active"`
	Deposit          uint64 `json:"deposit"`
	Status           string `json:"status,omitempty"`
}

func agreementResult(at crypto.Address, ag *subscription.Agreement) AgreementResult {
	return AgreementResult{
		Address:          addrString(at),
		Payer:            addrString(ag.Payer),
		Terms:            addrString(ag.Terms),
		FundingAccount:   addrString(ag.FundingAccount),
		Amount:           ag.Amount,
		PeriodSecs:       ag.PeriodSecs,
		AllowancePeriods: ag.AllowancePeriods,
		NextPaymentAt:    ag.NextPaymentAt,
		LastPaymentAt:    ag.LastPaymentAt,
		LastAmount:       ag.LastAmount,
		PaymentCount:     ag.PaymentCount,
		CreatedAt:        ag.CreatedAt,
		Active:           ag.Active,
		Deposit:          ag.Deposit,
	}
}

type ExecutionResult struct {
	Agreement     string `json:"agreement"`
	Amount        uint64 `json:"amount"`
	KeeperFee     uint64 `json:"keeperFee"`
	PlatformFee   uint64 `json:"platformFee"`
	PayeeShare    uint64 `json:"payeeShare"`
	PaymentCount  uint64 `json:"paymentCount"`
	NextPaymentAt uint64 `json:"nextPaymentAt"`
	Remaining     uint64 `json:"remainingAllowance"`
}

func executionResult(res *subscription.ExecutionResult) ExecutionResult {
	return ExecutionResult{
		Agreement:     addrString(res.Agreement),
		Amount:        res.Amount,
		KeeperFee:     res.KeeperFee,
		PlatformFee:   res.PlatformFee,
		PayeeShare:    res.PayeeShare,
		PaymentCount:  res.PaymentCount,
		NextPaymentAt: res.NextPaymentAt,
		Remaining:     res.Remaining,
	}
}

type AccountResult struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	Label           string `json:"label"`
	Balance         uint64 `json:"balance"`
	Delegate        string `json:"delegate,omitempty"`
	DelegatedAmount uint64 `json:"delegatedAmount"`
	Frozen          bool   `json:"frozen"`
}

func accountResult(at crypto.Address, acct *bank.FundingAccount) AccountResult {
	return AccountResult{
		Address:         addrString(at),
		Owner:           addrString(acct.Owner),
		Label:           acct.Label,
		Balance:         acct.Balance,
		Delegate:        addrString(acct.Delegate),
		DelegatedAmount: acct.DelegatedAmount,
		Frozen:          acct.Frozen,
	}
}

type addressResult struct {
	Address string `json:"address"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func addressesResult(addrs []crypto.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

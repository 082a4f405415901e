package rpc

import (
	"context"
	"encoding/json"

	"tally/crypto"
	"tally/native/subscription"
)

type initConfigParams struct {
	PlatformAuthority       string `json:"platformAuthority"`
	PlatformDestination     string `json:"platformDestination"`
	MinPlatformFeeBps       uint32 `json:"minPlatformFeeBps"`
	MaxPlatformFeeBps       uint32 `json:"maxPlatformFeeBps"`
	KeeperFeeBps            uint32 `json:"keeperFeeBps"`
	MinPeriodSecs           uint64 `json:"minPeriodSecs"`
	DefaultAllowancePeriods uint64 `json:"defaultAllowancePeriods"`
	MaxGraceSecs            uint64 `json:"maxGraceSecs"`
}

type updateConfigParams struct {
	KeeperFeeBps        *uint32 `json:"keeperFeeBps,omitempty"`
	MinPlatformFeeBps   *uint32 `json:"minPlatformFeeBps,omitempty"`
	MaxPlatformFeeBps   *uint32 `json:"maxPlatformFeeBps,omitempty"`
	PlatformDestination *string `json:"platformDestination,omitempty"`
	Paused              *bool   `json:"paused,omitempty"`
}

type platformAuthorityParams struct {
	Authority   string `json:"authority"`
	Destination string `json:"destination"`
}

type setPausedParams struct {
	Paused bool `json:"paused"`
}

type initPayeeParams struct {
	Destination string `json:"destination"`
	FeeBps      uint32 `json:"feeBps"`
}

type payeeFeeParams struct {
	Payee  string `json:"payee"`
	FeeBps uint32 `json:"feeBps"`
}

type createTermsParams struct {
	Payee      string `json:"payee"`
	ID         string `json:"id"`
	Amount     uint64 `json:"amount"`
	PeriodSecs uint64 `json:"periodSecs"`
	GraceSecs  uint64 `json:"graceSecs"`
}

type updateTermsParams struct {
	Terms      string  `json:"terms"`
	Amount     *uint64 `json:"amount,omitempty"`
	PeriodSecs *uint64 `json:"periodSecs,omitempty"`
	GraceSecs  *uint64 `json:"graceSecs,omitempty"`
}

type termsParams struct {
	Terms string `json:"terms"`
}

type startParams struct {
	Terms            string `json:"terms"`
	FundingAccount   string `json:"fundingAccount"`
	AllowancePeriods uint64 `json:"allowancePeriods"`
	TrialSecs        uint64 `json:"trialSecs"`
}

type executeParams struct {
	Agreement     string `json:"agreement"`
	KeeperAccount string `json:"keeperAccount"`
}

type pauseParams struct {
	Agreement       string `json:"agreement"`
	RevokeAllowance bool   `json:"revokeAllowance"`
}

type resumeParams struct {
	Agreement        string `json:"agreement"`
	AllowancePeriods uint64 `json:"allowancePeriods"`
}

type agreementParams struct {
	Agreement string `json:"agreement"`
}

type closeResult struct {
	Agreement string `json:"agreement"`
	Payer     string `json:"payer"`
	Reclaimed uint64 `json:"reclaimed"`
}

func (s *Server) handleInitConfig(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params initConfigParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	authority, err := decodeAddress("platformAuthority", params.PlatformAuthority)
	if err != nil {
		return nil, err
	}
	destination, err := decodeAddress("platformDestination", params.PlatformDestination)
	if err != nil {
		return nil, err
	}
	cfg, err := s.engine.InitConfig(caller, subscription.ConfigParams{
		PlatformAuthority:       authority,
		PlatformDestination:     destination,
		MinPlatformFeeBps:       params.MinPlatformFeeBps,
		MaxPlatformFeeBps:       params.MaxPlatformFeeBps,
		KeeperFeeBps:            params.KeeperFeeBps,
		MinPeriodSecs:           params.MinPeriodSecs,
		DefaultAllowancePeriods: params.DefaultAllowancePeriods,
		MaxGraceSecs:            params.MaxGraceSecs,
	})
	if err != nil {
		return nil, err
	}
	return configResult(cfg), nil
}

func (s *Server) handleUpdateConfig(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params updateConfigParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	update := subscription.ConfigUpdate{
		KeeperFeeBps:      params.KeeperFeeBps,
		MinPlatformFeeBps: params.MinPlatformFeeBps,
		MaxPlatformFeeBps: params.MaxPlatformFeeBps,
		Paused:            params.Paused,
	}
	if params.PlatformDestination != nil {
		destination, err := decodeAddress("platformDestination", *params.PlatformDestination)
		if err != nil {
			return nil, err
		}
		update.PlatformDestination = &destination
	}
	cfg, err := s.engine.UpdateConfig(caller, update)
	if err != nil {
		return nil, err
	}
	return configResult(cfg), nil
}

func (s *Server) handleTransferPlatformAuthority(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params platformAuthorityParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	authority, err := decodeAddress("authority", params.Authority)
	if err != nil {
		return nil, err
	}
	destination, err := decodeAddress("destination", params.Destination)
	if err != nil {
		return nil, err
	}
	cfg, err := s.engine.TransferPlatformAuthority(caller, authority, destination)
	if err != nil {
		return nil, err
	}
	return configResult(cfg), nil
}

func (s *Server) handleSetPaused(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params setPausedParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	cfg, err := s.engine.SetPaused(caller, params.Paused)
	if err != nil {
		return nil, err
	}
	return configResult(cfg), nil
}

func (s *Server) handleInitPayee(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params initPayeeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	destination, err := decodeAddress("destination", params.Destination)
	if err != nil {
		return nil, err
	}
	payee, err := s.engine.InitPayee(caller, destination, params.FeeBps)
	if err != nil {
		return nil, err
	}
	return addressResult{Address: payee.String()}, nil
}

func (s *Server) handleUpdatePayeeFee(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params payeeFeeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	payee, err := decodeAddress("payee", params.Payee)
	if err != nil {
		return nil, err
	}
	if err := s.engine.UpdatePayeeFee(caller, payee, params.FeeBps); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleCreateTerms(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params createTermsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	payee, err := decodeOptionalAddress("payee", params.Payee)
	if err != nil {
		return nil, err
	}
	if payee.IsZero() {
		payee = subscription.PayeeAddress(caller)
	}
	terms, err := s.engine.CreateTerms(caller, payee, subscription.TermsParams{
		ID:         params.ID,
		Amount:     params.Amount,
		PeriodSecs: params.PeriodSecs,
		GraceSecs:  params.GraceSecs,
	})
	if err != nil {
		return nil, err
	}
	return addressResult{Address: terms.String()}, nil
}

func (s *Server) handleUpdateTerms(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params updateTermsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("terms", params.Terms)
	if err != nil {
		return nil, err
	}
	terms, err := s.engine.UpdateTerms(caller, at, subscription.TermsUpdate{
		Amount:     params.Amount,
		PeriodSecs: params.PeriodSecs,
		GraceSecs:  params.GraceSecs,
	})
	if err != nil {
		return nil, err
	}
	return termsResult(at, terms), nil
}

func (s *Server) handleDeactivateTerms(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params termsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("terms", params.Terms)
	if err != nil {
		return nil, err
	}
	if err := s.engine.DeactivateTerms(caller, at); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleStart(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params startParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	terms, err := decodeAddress("terms", params.Terms)
	if err != nil {
		return nil, err
	}
	account, err := decodeAddress("fundingAccount", params.FundingAccount)
	if err != nil {
		return nil, err
	}
	agreement, err := s.engine.Start(caller, subscription.StartParams{
		Terms:            terms,
		FundingAccount:   account,
		AllowancePeriods: params.AllowancePeriods,
		TrialSecs:        params.TrialSecs,
	})
	if err != nil {
		return nil, err
	}
	return addressResult{Address: agreement.String()}, nil
}

func (s *Server) handleExecute(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params executeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	agreement, err := decodeAddress("agreement", params.Agreement)
	if err != nil {
		return nil, err
	}
	account, err := decodeAddress("keeperAccount", params.KeeperAccount)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Execute(caller, agreement, account)
	if err != nil {
		return nil, err
	}
	return executionResult(res), nil
}

func (s *Server) handlePause(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params pauseParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	agreement, err := decodeAddress("agreement", params.Agreement)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Pause(caller, agreement, params.RevokeAllowance); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleResume(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params resumeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("agreement", params.Agreement)
	if err != nil {
		return nil, err
	}
	ag, err := s.engine.Resume(caller, at, params.AllowancePeriods)
	if err != nil {
		return nil, err
	}
	return agreementResult(at, ag), nil
}

func (s *Server) handleClose(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params agreementParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("agreement", params.Agreement)
	if err != nil {
		return nil, err
	}
	reclaimed, err := s.engine.Close(caller, at)
	if err != nil {
		return nil, err
	}
	return closeResult{
		Agreement: addrString(reclaimed.Agreement),
		Payer:     addrString(reclaimed.Payer),
		Reclaimed: reclaimed.Deposit,
	}, nil
}

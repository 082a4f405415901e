package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tally/crypto"
	"tally/integrations/eventstore"
	"tally/native/bank"
	"tally/native/subscription"
)

type payeeParams struct {
	Payee string `json:"payee"`
}

type listAgreementsParams struct {
	Terms string `json:"terms,omitempty"`
	Payer string `json:"payer,omitempty"`
}

type dueParams struct {
	At    uint64 `json:"at,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type deriveParams struct {
	Authority string `json:"authority,omitempty"`
	TermsID   string `json:"termsId,omitempty"`
	Payer     string `json:"payer,omitempty"`
	Label     string `json:"label,omitempty"`
}

type deriveResult struct {
	Config         string `json:"config"`
	Delegate       string `json:"delegate"`
	Payee          string `json:"payee,omitempty"`
	Terms          string `json:"terms,omitempty"`
	Agreement      string `json:"agreement,omitempty"`
	FundingAccount string `json:"fundingAccount,omitempty"`
}

type eventsSinceParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit,omitempty"`
}

type eventsHistoryParams struct {
	Agreement string `json:"agreement,omitempty"`
	Payee     string `json:"payee,omitempty"`
	Payer     string `json:"payer,omitempty"`
	Type      string `json:"type,omitempty"`
	Since     int64  `json:"since,omitempty"`
	AfterSeq  uint64 `json:"afterSeq,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type historyEntry struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	EmittedAt  int64             `json:"emittedAt"`
	Attributes map[string]string `json:"attributes"`
}

const maxPageSize = 500

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (s *Server) nowUnix() uint64 {
	at := s.now().Unix()
	if at < 0 {
		return 0
	}
	return uint64(at)
}

func (s *Server) handleGetConfig(_ context.Context, _ crypto.Address, _ json.RawMessage) (interface{}, error) {
	cfg, err := s.engine.FetchConfig()
	if err != nil {
		return nil, err
	}
	return configResult(cfg), nil
}

func (s *Server) handleGetPayee(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params payeeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("payee", params.Payee)
	if err != nil {
		return nil, err
	}
	payee, err := s.engine.FetchPayee(at)
	if err != nil {
		return nil, err
	}
	return payeeResult(at, payee), nil
}

func (s *Server) handleGetTerms(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params termsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("terms", params.Terms)
	if err != nil {
		return nil, err
	}
	terms, err := s.engine.FetchTerms(at)
	if err != nil {
		return nil, err
	}
	return termsResult(at, terms), nil
}

func (s *Server) handleGetAgreement(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params agreementParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("agreement", params.Agreement)
	if err != nil {
		return nil, err
	}
	ag, err := s.engine.FetchAgreement(at)
	if err != nil {
		return nil, err
	}
	out := agreementResult(at, ag)
	if status, err := s.engine.Status(at, s.nowUnix()); err == nil {
		out.Status = string(status)
	}
	return out, nil
}

func (s *Server) handleListTerms(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params payeeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	payee, err := decodeAddress("payee", params.Payee)
	if err != nil {
		return nil, err
	}
	terms, err := s.engine.ListTerms(payee)
	if err != nil {
		return nil, err
	}
	return addressesResult(terms), nil
}

func (s *Server) handleListAgreements(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params listAgreementsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if (params.Terms == "") == (params.Payer == "") {
		return nil, invalidParams("exactly one of terms or payer is required", nil)
	}
	var (
		list []crypto.Address
		err  error
	)
	if params.Terms != "" {
		terms, decodeErr := decodeAddress("terms", params.Terms)
		if decodeErr != nil {
			return nil, decodeErr
		}
		list, err = s.engine.ListAgreements(terms)
	} else {
		payer, decodeErr := decodeAddress("payer", params.Payer)
		if decodeErr != nil {
			return nil, decodeErr
		}
		list, err = s.engine.ListAgreementsByPayer(payer)
	}
	if err != nil {
		return nil, err
	}
	return addressesResult(list), nil
}

func (s *Server) handleDueAgreements(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params dueParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at := params.At
	if at == 0 {
		at = s.nowUnix()
	}
	due, err := s.engine.DueAgreements(at, clampLimit(params.Limit))
	if err != nil {
		return nil, err
	}
	out := make([]AgreementResult, len(due))
	for i, item := range due {
		out[i] = agreementResult(item.Address, item.Agreement)
	}
	return out, nil
}

func (s *Server) handleDeriveAddresses(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params deriveParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	out := deriveResult{
		Config:   subscription.ConfigAddress().String(),
		Delegate: subscription.DelegateAddress().String(),
	}
	authority, err := decodeOptionalAddress("authority", params.Authority)
	if err != nil {
		return nil, err
	}
	payer, err := decodeOptionalAddress("payer", params.Payer)
	if err != nil {
		return nil, err
	}
	if !authority.IsZero() {
		payee := subscription.PayeeAddress(authority)
		out.Payee = payee.String()
		if params.TermsID != "" {
			terms, err := subscription.TermsAddress(payee, params.TermsID)
			if err != nil {
				return nil, err
			}
			out.Terms = terms.String()
			if !payer.IsZero() {
				out.Agreement = subscription.AgreementAddress(terms, payer).String()
			}
		}
	}
	if !payer.IsZero() {
		account, err := bank.AccountAddress(payer, params.Label)
		if err != nil {
			return nil, invalidParams("invalid label", err)
		}
		out.FundingAccount = account.String()
	}
	return out, nil
}

func (s *Server) handleEventsSince(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params eventsSinceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if s.log == nil {
		return []interface{}{}, nil
	}
	return s.log.Since(params.After, clampLimit(params.Limit)), nil
}

func (s *Server) handleEventsHistory(ctx context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params eventsHistoryParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "event archive not configured", status: http.StatusNotFound}
	}
	q := eventstore.Query{
		Type:      params.Type,
		Agreement: params.Agreement,
		Payee:     params.Payee,
		Payer:     params.Payer,
		AfterSeq:  params.AfterSeq,
		Limit:     clampLimit(params.Limit),
	}
	if params.Since > 0 {
		q.Since = time.Unix(params.Since, 0)
	}
	entries, err := s.archive.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Attrs()
		if err != nil {
			return nil, err
		}
		out = append(out, historyEntry{Seq: entry.Seq, Type: entry.Type, EmittedAt: entry.EmittedAt.Unix(), Attributes: attrs})
	}
	return out, nil
}

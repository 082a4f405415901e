package rpc

import (
	"context"
	"encoding/json"

	"tally/crypto"
)

type openAccountParams struct {
	Label string `json:"label"`
}

type mintParams struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type fundDepositsParams struct {
	Holder string `json:"holder"`
	Amount uint64 `json:"amount"`
}

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type allowanceParams struct {
	Account string `json:"account"`
	Cap     uint64 `json:"cap"`
}

type accountParams struct {
	Account string `json:"account"`
}

type holderParams struct {
	Holder string `json:"holder"`
}

type balanceResult struct {
	Holder  string `json:"holder"`
	Balance uint64 `json:"balance"`
}

func (s *Server) handleOpenAccount(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params openAccountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := s.engine.OpenFundingAccount(caller, params.Label)
	if err != nil {
		return nil, err
	}
	return addressResult{Address: at.String()}, nil
}

func (s *Server) handleMint(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params mintParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := decodeAddress("account", params.Account)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Mint(caller, account, params.Amount); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleFundDeposits(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params fundDepositsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	holder, err := decodeAddress("holder", params.Holder)
	if err != nil {
		return nil, err
	}
	if err := s.engine.FundDeposits(caller, holder, params.Amount); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleTransfer(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params transferParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	from, err := decodeAddress("from", params.From)
	if err != nil {
		return nil, err
	}
	to, err := decodeAddress("to", params.To)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Transfer(caller, from, to, params.Amount); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleGrantAllowance(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params allowanceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := decodeAddress("account", params.Account)
	if err != nil {
		return nil, err
	}
	if err := s.engine.GrantAllowance(caller, account, params.Cap); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleRevokeAllowance(_ context.Context, caller crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	account, err := decodeAddress("account", params.Account)
	if err != nil {
		return nil, err
	}
	if err := s.engine.RevokeAllowance(caller, account); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleGetAccount(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params accountParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	at, err := decodeAddress("account", params.Account)
	if err != nil {
		return nil, err
	}
	acct, err := s.engine.FetchFundingAccount(at)
	if err != nil {
		return nil, err
	}
	return accountResult(at, acct), nil
}

func (s *Server) handleDepositBalance(_ context.Context, _ crypto.Address, raw json.RawMessage) (interface{}, error) {
	var params holderParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	holder, err := decodeAddress("holder", params.Holder)
	if err != nil {
		return nil, err
	}
	balance, err := s.engine.DepositBalance(holder)
	if err != nil {
		return nil, err
	}
	return balanceResult{Holder: holder.String(), Balance: balance}, nil
}

package rpc

import (
	"errors"
	"net/http"

	"tally/native/subscription"
)

type errorData struct {
	Category string `json:"category,omitempty"`
	Field    string `json:"field,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func invalidParams(message string, detail error) error {
	err := &RPCError{Code: codeInvalidParams, Message: message, status: http.StatusBadRequest}
	if detail != nil {
		err.Data = errorData{Category: string(subscription.CategoryValidation), Detail: detail.Error()}
	}
	return err
}

// toRPCError maps engine errors onto HTTP status and JSON-RPC codes.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.status == 0 {
			rpcErr.status = http.StatusBadRequest
		}
		return rpcErr
	}
	category := subscription.Classify(err)
	data := errorData{Category: string(category), Detail: err.Error()}
	var invalid *subscription.InvalidParameter
	if errors.As(err, &invalid) {
		data.Field = invalid.Field
	}
	out := &RPCError{Data: data}
	switch {
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, subscription.ErrNotInitialized):
		out.status, out.Code, out.Message = http.StatusNotFound, codeNotFound, "not found"
	case errors.Is(err, subscription.ErrInvalidParameter):
		out.status, out.Code, out.Message = http.StatusBadRequest, codeInvalidParams, "invalid parameter"
	case category == subscription.CategoryValidation:
		out.status, out.Code, out.Message = http.StatusConflict, codeConflict, conflictMessage(err)
	case errors.Is(err, subscription.ErrAllowanceExceeded), errors.Is(err, subscription.ErrInsufficientFunds):
		out.status, out.Code, out.Message = http.StatusPaymentRequired, codePaymentRequired, paymentMessage(err)
	case category == subscription.CategoryAuthorization:
		out.status, out.Code, out.Message = http.StatusForbidden, codeForbidden, "forbidden"
	case category == subscription.CategoryArithmetic:
		out.status, out.Code, out.Message = http.StatusInternalServerError, codeServerError, "arithmetic fault"
	default:
		out.status, out.Code, out.Message = http.StatusServiceUnavailable, codeUnavailable, "temporarily unavailable"
		out.Data = errorData{Category: string(category)}
	}
	return out
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, subscription.ErrAlreadyExists):
		return "already exists"
	case errors.Is(err, subscription.ErrAlreadyActive):
		return "agreement already active"
	case errors.Is(err, subscription.ErrStillActive):
		return "agreement still active"
	case errors.Is(err, subscription.ErrTooEarly):
		return "payment not due"
	case errors.Is(err, subscription.ErrAgreementInactive):
		return "agreement inactive"
	case errors.Is(err, subscription.ErrTermsInactive):
		return "terms inactive"
	case errors.Is(err, subscription.ErrProgramPaused):
		return "program paused"
	case errors.Is(err, subscription.ErrIncompatibleRecord):
		return "incompatible record"
	default:
		return "conflict"
	}
}

func paymentMessage(err error) string {
	if errors.Is(err, subscription.ErrAllowanceExceeded) {
		return "allowance exceeded"
	}
	return "insufficient funds"
}

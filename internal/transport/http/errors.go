package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cimillas/paygate/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidSignature    = "invalid_signature"
	codeInvalidOrderID      = "invalid_order_id"
	codeInvalidAmount       = "invalid_amount"
	codeUnsupportedCurrency = "unsupported_currency"
	codeCustomerRequired    = "customer_required"
	codeOrderNotFound       = "order_not_found"
	codeOrderAlreadyPaid    = "order_already_paid"
	codeTransitionRejected  = "transition_rejected"
	codeDuplicateGatewayID  = "duplicate_gateway_order"
	codePaymentNotAttempted = "payment_not_attempted"
	codeConflict            = "conflict"
	codeUpstreamUnavailable = "upstream_unavailable"
	codeUnauthorized        = "unauthorized"
	codeForbidden           = "forbidden"
	codeRateLimited         = "rate_limited"
	codeServiceUnavailable  = "service_unavailable"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps service errors onto the HTTP error envelope. Unknown
// errors become a 500 without leaking their text.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrderID):
		writeError(w, http.StatusBadRequest, codeInvalidOrderID, domain.ErrInvalidOrderID.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, codeInvalidAmount, domain.ErrInvalidAmount.Error())
	case errors.Is(err, domain.ErrUnsupportedCurrency):
		writeError(w, http.StatusBadRequest, codeUnsupportedCurrency, domain.ErrUnsupportedCurrency.Error())
	case errors.Is(err, domain.ErrCustomerRequired):
		writeError(w, http.StatusBadRequest, codeCustomerRequired, domain.ErrCustomerRequired.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, codeOrderNotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrOrderAlreadyPaid):
		writeError(w, http.StatusConflict, codeOrderAlreadyPaid, domain.ErrOrderAlreadyPaid.Error())
	case errors.Is(err, domain.ErrTransitionRejected):
		writeError(w, http.StatusConflict, codeTransitionRejected, domain.ErrTransitionRejected.Error())
	case errors.Is(err, domain.ErrDuplicateGatewayOrder):
		writeError(w, http.StatusConflict, codeDuplicateGatewayID, domain.ErrDuplicateGatewayOrder.Error())
	case errors.Is(err, domain.ErrNotAttempted):
		writeError(w, http.StatusConflict, codePaymentNotAttempted, domain.ErrNotAttempted.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, domain.ErrConflict.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, codeUpstreamUnavailable, domain.ErrUpstreamUnavailable.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

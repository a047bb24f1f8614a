package domain

import "errors"

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderID        = errors.New("invalid order id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrCustomerRequired      = errors.New("customer id and phone are required")
	ErrOrderAlreadyPaid      = errors.New("order already paid")
	ErrTransitionRejected    = errors.New("transition not permitted")
	ErrDuplicateGatewayOrder = errors.New("gateway order id already assigned to another order")

	// ErrStaleTransition is returned by stores when the record changed between
	// read and commit. Callers re-read and reapply.
	ErrStaleTransition = errors.New("stale transition")
	ErrConflict        = errors.New("transition retry budget exhausted")

	ErrInvalidSignature    = errors.New("invalid signature")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable")
	ErrNotAttempted        = errors.New("payment not attempted")
)

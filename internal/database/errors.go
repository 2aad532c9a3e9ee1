package database

import "errors"

var (
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTableUnavailable is returned when a hold attempt loses to an
	// existing active booking on the same table.
	ErrTableUnavailable = errors.New("table unavailable")

	// ErrInvalidTransition is returned when an operation is not legal from
	// the entity's current state. No state change happened.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails. The caller may reload and re-evaluate.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrValidation is returned for malformed requests, before any state
	// change.
	ErrValidation = errors.New("validation error")

	// ErrPaymentMismatch marks an observed transfer that exceeds the
	// expected amount. The settlement moves to failed for manual
	// reconciliation.
	ErrPaymentMismatch = errors.New("payment amount mismatch")

	// ErrGatewayUnavailable is returned when the payment gateway times out
	// or errors. The settlement stays awaiting payment and the poll is
	// safe to retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

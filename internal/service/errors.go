package service

import "errors"

var (
	ErrValidation               = errors.New("validation failed")
	ErrNotFound                 = errors.New("not found")
	ErrNoPartnersForDestination = errors.New("no partners serve destination")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrOracleUnavailable        = errors.New("scoring oracle unavailable")
	ErrLedgerUnavailable        = errors.New("ledger unavailable")
	ErrUpstreamMalformed        = errors.New("upstream response malformed")
	ErrPartnerStoreUnavailable  = errors.New("partner directory unavailable")
	ErrCapacityStoreUnavailable = errors.New("capacity store unavailable")
	ErrOrderExists              = errors.New("order already exists for another user")
	ErrInvalidToken             = errors.New("invalid operator token")
	ErrOperatorDisabled         = errors.New("operator disabled")
	ErrBatchTooLarge            = errors.New("batch too large")
)

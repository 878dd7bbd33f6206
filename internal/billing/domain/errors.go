package domain

import "errors"

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrTransactionFailed     = errors.New("transaction_failed")
	ErrProviderUnavailable   = errors.New("provider_unavailable")
	ErrUnknownPrice          = errors.New("unknown_price")
	ErrUnknownStatus         = errors.New("unknown_status")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
)

package domain

import "errors"

var (
	ErrInvalidFeature  = errors.New("invalid_feature")
	ErrPremiumRequired = errors.New("premium_required")
	ErrQuotaExhausted  = errors.New("quota_exhausted")
)

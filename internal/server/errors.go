package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	entitlementdomain "github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	referraldomain "github.com/vettedhq/entitlement-engine/internal/referral/domain"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, entitlementdomain.ErrPremiumRequired):
		return http.StatusForbidden, errorPayload{
			Type:    "premium_required",
			Message: "an active subscription or premium balance is required",
		}
	case errors.Is(err, entitlementdomain.ErrQuotaExhausted):
		return http.StatusForbidden, errorPayload{
			Type:    "quota_exhausted",
			Message: "feature quota exhausted for the current period",
		}

	case errors.Is(err, referraldomain.ErrAlreadyInvited),
		errors.Is(err, referraldomain.ErrAlreadyRedeemed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "invite code already redeemed",
		}

	case errors.Is(err, referraldomain.ErrInvalidCode),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, billingdomain.ErrSubscriptionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, referraldomain.ErrSelfInvite),
		errors.Is(err, entitlementdomain.ErrInvalidFeature),
		errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, billingdomain.ErrInvalidPayload),
		errors.Is(err, billingdomain.ErrInvalidEvent),
		errors.Is(err, billingdomain.ErrUnknownPrice),
		errors.Is(err, billingdomain.ErrUnknownStatus):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}

	case errors.Is(err, billingdomain.ErrProviderUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_unavailable",
			Message: "billing provider unavailable",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

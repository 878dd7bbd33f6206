package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
)

// HandleBillingWebhook ingests one provider event. Redelivered and ignored
// events acknowledge with 200 so the provider stops retrying them.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider != "stripe" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.billingSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billingdomain.ErrEventAlreadyProcessed) ||
			errors.Is(err, billingdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"event_type": result.EventType,
	})
}

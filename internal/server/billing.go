package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
)

type createCheckoutRequest struct {
	PlanID     string `json:"plan_id"`
	TopUp      bool   `json:"topup"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// HandleCreateCheckout starts a hosted checkout for a plan or a top-up.
func (s *Server) HandleCreateCheckout(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if !req.TopUp && req.PlanID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.billingSvc.CreateCheckout(c.Request.Context(), billingdomain.CheckoutRequest{
		UserID:  userID,
		PlanID:  req.PlanID,
		TopUp:   req.TopUp,
		Success: req.SuccessURL,
		Cancel:  req.CancelURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// HandleCreatePortal opens a hosted billing portal session.
func (s *Server) HandleCreatePortal(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	session, err := s.billingSvc.CreatePortal(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": session.URL})
}

// HandleGetSubscription returns the acting user's current subscription.
func (s *Server) HandleGetSubscription(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	sub, err := s.billingSvc.GetCurrentSubscription(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// HandleCancelSubscription schedules cancellation at period end.
func (s *Server) HandleCancelSubscription(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	sub, err := s.billingSvc.CancelAtPeriodEnd(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// HandleReactivateSubscription removes a pending period-end cancellation.
func (s *Server) HandleReactivateSubscription(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	sub, err := s.billingSvc.Reactivate(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// HandleListInvoices returns recent invoices for the acting user.
func (s *Server) HandleListInvoices(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	invoices, err := s.billingSvc.ListInvoices(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type redeemInviteRequest struct {
	Code string `json:"code" binding:"required"`
}

// HandleRedeemInvite applies an invite code for the acting user.
func (s *Server) HandleRedeemInvite(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	var req redeemInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.referralSvc.Redeem(c.Request.Context(), userID, req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleReferralStats reports the acting user's redemption tally.
func (s *Server) HandleReferralStats(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	count, redemptions, err := s.referralSvc.Stats(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redemption_count": count,
		"redemptions":      redemptions,
	})
}

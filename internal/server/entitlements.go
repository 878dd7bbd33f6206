package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	entitlementdomain "github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
)

// HandleConsumeFeature gates one feature use for the acting user.
func (s *Server) HandleConsumeFeature(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	feature, err := entitlementdomain.ParseFeature(c.Param("feature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.entitlementSvc.CheckAndConsume(c.Request.Context(), userID, feature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// HandleEntitlementPreview reports current balances without consuming.
func (s *Server) HandleEntitlementPreview(c *gin.Context) {
	userID, ok := s.requestUserID(c)
	if !ok {
		return
	}

	summary, err := s.entitlementSvc.Preview(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

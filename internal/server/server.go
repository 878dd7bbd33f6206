// Package server exposes the HTTP surface: the billing webhook sink, the
// feature gate, the referral ledger and the outbound billing endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/billing"
	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/clock"
	"github.com/vettedhq/entitlement-engine/internal/config"
	"github.com/vettedhq/entitlement-engine/internal/entitlement"
	entitlementdomain "github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	"github.com/vettedhq/entitlement-engine/internal/migration"
	obsmetrics "github.com/vettedhq/entitlement-engine/internal/observability/metrics"
	"github.com/vettedhq/entitlement-engine/internal/referral"
	referraldomain "github.com/vettedhq/entitlement-engine/internal/referral/domain"
	"github.com/vettedhq/entitlement-engine/internal/sweeper"
	"github.com/vettedhq/entitlement-engine/internal/user"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
	"github.com/vettedhq/entitlement-engine/pkg/db"
	"github.com/vettedhq/entitlement-engine/pkg/log"
)

var Module = fx.Module("http.server",
	config.Module,
	log.Module,
	db.Module,
	clock.Module,
	migration.Module,
	obsmetrics.Module,
	fx.Provide(NewEngine),
	user.Module,
	entitlement.Module,
	billing.Module,
	referral.Module,
	sweeper.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	billingSvc     billingdomain.Service
	entitlementSvc entitlementdomain.Service
	referralSvc    referraldomain.Service
	users          userdomain.Repository
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	BillingSvc     billingdomain.Service
	EntitlementSvc entitlementdomain.Service
	ReferralSvc    referraldomain.Service
	Users          userdomain.Repository
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		billingSvc:     p.BillingSvc,
		entitlementSvc: p.EntitlementSvc,
		referralSvc:    p.ReferralSvc,
		users:          p.Users,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/billing/webhooks/:provider", s.HandleBillingWebhook)

	v1.POST("/entitlements/:feature/consume", s.HandleConsumeFeature)
	v1.GET("/entitlements", s.HandleEntitlementPreview)

	v1.POST("/referrals/redeem", s.HandleRedeemInvite)
	v1.GET("/referrals/stats", s.HandleReferralStats)

	v1.POST("/billing/checkout", s.HandleCreateCheckout)
	v1.POST("/billing/portal", s.HandleCreatePortal)
	v1.GET("/billing/subscription", s.HandleGetSubscription)
	v1.POST("/billing/subscription/cancel", s.HandleCancelSubscription)
	v1.POST("/billing/subscription/reactivate", s.HandleReactivateSubscription)
	v1.GET("/billing/invoices", s.HandleListInvoices)
}

// requestUserID resolves the acting user from the X-User-ID header set by the
// upstream auth proxy.
func (s *Server) requestUserID(c *gin.Context) (snowflake.ID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return id, true
}

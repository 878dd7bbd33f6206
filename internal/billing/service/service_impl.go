package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/clock"
	"github.com/vettedhq/entitlement-engine/internal/config"
	entitlementdomain "github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	obsmetrics "github.com/vettedhq/entitlement-engine/internal/observability/metrics"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Catalog      *config.CatalogHolder
	Provider     domain.Provider
	Repo         domain.Repository
	Users        userdomain.Repository
	Entitlements entitlementdomain.Repository
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.Config
	catalog      *config.CatalogHolder
	provider     domain.Provider
	repo         domain.Repository
	users        userdomain.Repository
	entitlements entitlementdomain.Repository
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("billing.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg,
		catalog:      p.Catalog,
		provider:     p.Provider,
		repo:         p.Repo,
		users:        p.Users,
		entitlements: p.Entitlements,
		obsMetrics:   p.ObsMetrics,
	}
}

// HandleWebhook verifies, records and applies one provider event. Signature
// verification happens before any side effect; provider state is fetched back
// from the API before the transaction so the apply step never trusts event
// payload fields.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*domain.IngestResult, error) {
	start := s.clock.Now()
	providerName := s.provider.Name()

	if err := s.provider.VerifyWebhook(payload, signatureHeader); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, providerName, "unknown", "rejected")
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	event, err := s.provider.ParseWebhook(payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.obsMetrics.RecordWebhookEvent(ctx, providerName, "unknown", "ignored")
		}
		return nil, err
	}

	provSub, err := s.fetchProviderState(ctx, event)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, event, provSub)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rec := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        providerName,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		UserID:          user.ID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrEventAlreadyProcessed
		}
		if err := s.apply(ctx, tx, event, provSub, user, now); err != nil {
			return err
		}
		return s.repo.MarkEventProcessed(ctx, tx, rec.ID, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventAlreadyProcessed) {
			s.obsMetrics.RecordWebhookEvent(ctx, providerName, event.Type, "duplicate")
			return nil, err
		}
		if errors.Is(err, domain.ErrEventIgnored) {
			s.obsMetrics.RecordWebhookEvent(ctx, providerName, event.Type, "ignored")
			return nil, err
		}
		if isDomainErr(err) {
			s.obsMetrics.RecordWebhookEvent(ctx, providerName, event.Type, "failed")
			return nil, err
		}
		s.log.Error("webhook apply failed",
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, providerName, event.Type, "failed")
		return nil, errors.Join(domain.ErrTransactionFailed, err)
	}

	s.obsMetrics.RecordWebhookEvent(ctx, providerName, event.Type, "applied")
	s.obsMetrics.ObserveWebhookDuration(ctx, providerName, s.clock.Now().Sub(start))
	return &domain.IngestResult{EventID: rec.ID, EventType: event.Type, Applied: true}, nil
}

// fetchProviderState pulls the authoritative subscription record for events
// that carry one. Deletion events tolerate a fetch failure since the provider
// may have already discarded the record.
func (s *Service) fetchProviderState(ctx context.Context, event *domain.WebhookEvent) (*domain.ProviderSubscription, error) {
	subID := event.SubscriptionID
	if event.Type == domain.EventCheckoutCompleted {
		if event.Checkout == nil {
			return nil, domain.ErrInvalidEvent
		}
		if event.Checkout.Mode != domain.CheckoutModeSubscription {
			return nil, nil
		}
		subID = event.Checkout.SubscriptionID
	}
	if subID == "" {
		return nil, domain.ErrInvalidEvent
	}

	provSub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		if event.Type == domain.EventSubscriptionDeleted {
			return nil, nil
		}
		return nil, err
	}
	return provSub, nil
}

func (s *Service) resolveUser(ctx context.Context, event *domain.WebhookEvent, provSub *domain.ProviderSubscription) (*userdomain.User, error) {
	var userRef string
	if event.Checkout != nil {
		userRef = event.Checkout.UserID
	}
	if userRef == "" && provSub != nil {
		userRef = strings.TrimSpace(provSub.Metadata["user_id"])
	}

	if userRef != "" {
		id, err := snowflake.ParseString(userRef)
		if err != nil {
			return nil, domain.ErrInvalidEvent
		}
		user, err := s.users.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	if event.CustomerID != "" {
		user, err := s.users.FindByBillingCustomerID(ctx, s.db, event.CustomerID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	return nil, domain.ErrInvalidEvent
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent, provSub *domain.ProviderSubscription, user *userdomain.User, now time.Time) error {
	switch event.Type {
	case domain.EventCheckoutCompleted:
		if event.Checkout.Mode == domain.CheckoutModePayment {
			return s.applyTopUp(ctx, tx, event.Checkout, user, now)
		}
		if provSub == nil {
			return domain.ErrInvalidEvent
		}
		return s.applySubscriptionState(ctx, tx, user, provSub, now)

	case domain.EventSubscriptionCreated,
		domain.EventSubscriptionUpdated,
		domain.EventPaymentSucceeded:
		if provSub == nil {
			return domain.ErrInvalidEvent
		}
		return s.applySubscriptionState(ctx, tx, user, provSub, now)

	case domain.EventPaymentFailed:
		if provSub == nil {
			return domain.ErrInvalidEvent
		}
		// A failed invoice moves the local record to past_due even when the
		// provider still reports the subscription active.
		dunning := *provSub
		dunning.Status = string(domain.SubscriptionStatusPastDue)
		return s.applySubscriptionState(ctx, tx, user, &dunning, now)

	case domain.EventSubscriptionDeleted:
		if provSub != nil {
			return s.applySubscriptionState(ctx, tx, user, provSub, now)
		}
		return s.applyLocalCancel(ctx, tx, user, event.SubscriptionID, now)

	default:
		return domain.ErrEventIgnored
	}
}

// applyTopUp adds the top-up grant to every feature counter for a one-time
// purchase. The grant row is keyed by checkout session so redelivered
// completions cannot grant twice.
func (s *Service) applyTopUp(ctx context.Context, tx *gorm.DB, checkout *domain.CheckoutCompletion, user *userdomain.User, now time.Time) error {
	catalog := s.catalog.Get()
	amount := catalog.TopUp.Grant
	if amount <= 0 || (checkout.PriceID != "" && checkout.PriceID != catalog.TopUp.PriceID) {
		s.log.Warn("top-up price not in catalog, ignoring event",
			zap.String("session_id", checkout.SessionID),
			zap.String("price_id", checkout.PriceID),
		)
		return domain.ErrEventIgnored
	}

	granted, err := s.repo.InsertTopUpGrant(ctx, tx, &domain.TopUpGrant{
		ID:                s.genID.Generate(),
		CheckoutSessionID: checkout.SessionID,
		UserID:            user.ID,
		Amount:            amount,
		GrantedAt:         now,
	})
	if err != nil {
		return err
	}
	if !granted {
		s.log.Info("top-up already granted", zap.String("session_id", checkout.SessionID))
		return nil
	}

	if err := s.ensureUsageRows(ctx, tx, user.ID, 0, now); err != nil {
		return err
	}
	if err := s.entitlements.AddRemaining(ctx, tx, user.ID, amount, now); err != nil {
		return err
	}
	return s.ensureCustomerLink(ctx, tx, user, checkout.CustomerID, now)
}

// applySubscriptionState upserts the canonical record from fetched provider
// state, enforces the single current subscription per user, refreshes the
// user mirror and resets feature quotas on activation and period rollover.
func (s *Service) applySubscriptionState(ctx context.Context, tx *gorm.DB, user *userdomain.User, provSub *domain.ProviderSubscription, now time.Time) error {
	status, err := domain.ParseSubscriptionStatus(provSub.Status)
	if err != nil {
		return err
	}

	// An unrecognized price is acknowledged without effect so the provider
	// stops redelivering; the catalog has to catch up first.
	plan, ok := s.catalog.Get().PlanByPriceID(provSub.PriceID)
	if !ok {
		s.log.Warn("price not in catalog, ignoring event",
			zap.String("subscription_id", provSub.ID),
			zap.String("price_id", provSub.PriceID),
		)
		return domain.ErrEventIgnored
	}

	existing, err := s.repo.FindByProviderSubscriptionID(ctx, tx, provSub.ID)
	if err != nil {
		return err
	}

	wasEntitled := existing != nil && isEntitledStatus(existing.Status)
	periodAdvanced := existing != nil && provSub.CurrentPeriodEnd.After(existing.CurrentPeriodEnd)

	if existing == nil {
		sub := &domain.Subscription{
			ID:                     s.genID.Generate(),
			UserID:                 user.ID,
			ProviderSubscriptionID: provSub.ID,
			ProviderCustomerID:     provSub.CustomerID,
			Status:                 status,
			PlanID:                 plan.ID,
			PlanName:               plan.Name,
			PriceID:                provSub.PriceID,
			CurrentPeriodStart:     provSub.CurrentPeriodStart,
			CurrentPeriodEnd:       provSub.CurrentPeriodEnd,
			CancelAtPeriodEnd:      provSub.CancelAtPeriodEnd,
			CanceledAt:             provSub.CanceledAt,
			TrialStart:             provSub.TrialStart,
			TrialEnd:               provSub.TrialEnd,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
			return err
		}
	} else {
		existing.Status = status
		existing.PlanID = plan.ID
		existing.PlanName = plan.Name
		existing.PriceID = provSub.PriceID
		existing.CurrentPeriodStart = provSub.CurrentPeriodStart
		existing.CurrentPeriodEnd = provSub.CurrentPeriodEnd
		existing.CancelAtPeriodEnd = provSub.CancelAtPeriodEnd
		existing.CanceledAt = provSub.CanceledAt
		existing.TrialStart = provSub.TrialStart
		existing.TrialEnd = provSub.TrialEnd
		existing.UpdatedAt = now
		if err := s.repo.UpdateSubscription(ctx, tx, existing); err != nil {
			return err
		}
	}

	if isEntitledStatus(status) {
		if canceled, err := s.repo.CancelOthers(ctx, tx, user.ID, provSub.ID, now); err != nil {
			return err
		} else if canceled > 0 {
			s.log.Info("canceled stale subscriptions",
				zap.String("user_id", user.ID.String()),
				zap.Int64("count", canceled),
			)
		}
	}

	switch status {
	case domain.SubscriptionStatusCanceled, domain.SubscriptionStatusUnpaid:
		if err := s.users.ClearSubscriptionMirror(ctx, tx, user.ID, now); err != nil {
			return err
		}
	default:
		periodEnd := provSub.CurrentPeriodEnd
		if err := s.users.SetSubscriptionMirror(ctx, tx, user.ID, string(status), &periodEnd, provSub.CancelAtPeriodEnd, now); err != nil {
			return err
		}
	}

	if err := s.ensureCustomerLink(ctx, tx, user, provSub.CustomerID, now); err != nil {
		return err
	}

	if isEntitledStatus(status) && (!wasEntitled || periodAdvanced) {
		return s.resetQuotas(ctx, tx, user.ID, plan.FeatureLimit, now)
	}
	return nil
}

func (s *Service) applyLocalCancel(ctx context.Context, tx *gorm.DB, user *userdomain.User, providerSubID string, now time.Time) error {
	existing, err := s.repo.FindByProviderSubscriptionID(ctx, tx, providerSubID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrSubscriptionNotFound
	}
	if err := s.repo.MarkLapsed(ctx, tx, existing.ID, now); err != nil {
		return err
	}
	return s.users.ClearSubscriptionMirror(ctx, tx, user.ID, now)
}

func (s *Service) resetQuotas(ctx context.Context, tx *gorm.DB, userID snowflake.ID, allowance int64, now time.Time) error {
	if allowance <= 0 {
		allowance = entitlementdomain.InitialQuota
	}
	if err := s.ensureUsageRows(ctx, tx, userID, allowance, now); err != nil {
		return err
	}
	return s.entitlements.ResetAll(ctx, tx, userID, allowance, now)
}

func (s *Service) ensureUsageRows(ctx context.Context, tx *gorm.DB, userID snowflake.ID, remaining int64, now time.Time) error {
	features := entitlementdomain.AllFeatures()
	rows := make([]entitlementdomain.FeatureUsage, 0, len(features))
	for _, feature := range features {
		rows = append(rows, entitlementdomain.FeatureUsage{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Feature:     feature,
			Remaining:   remaining,
			LastResetAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return s.entitlements.EnsureUsage(ctx, tx, rows)
}

func (s *Service) ensureCustomerLink(ctx context.Context, tx *gorm.DB, user *userdomain.User, customerID string, now time.Time) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil
	}
	if user.BillingCustomerID != nil && *user.BillingCustomerID == customerID {
		return nil
	}
	return s.users.SetBillingCustomerID(ctx, tx, user.ID, customerID, now)
}

func isEntitledStatus(status domain.SubscriptionStatus) bool {
	return status == domain.SubscriptionStatusActive || status == domain.SubscriptionStatusTrialing
}

func isDomainErr(err error) bool {
	for _, sentinel := range []error{
		domain.ErrInvalidEvent,
		domain.ErrEventIgnored,
		domain.ErrUnknownPrice,
		domain.ErrUnknownStatus,
		domain.ErrSubscriptionNotFound,
		domain.ErrProviderUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/billing/domain"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

// CreateCheckout starts a hosted checkout for a plan subscription or a
// one-time top-up.
func (s *Service) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	user, err := s.users.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	catalog := s.catalog.Get()
	params := domain.CheckoutParams{
		UserID:     user.ID.String(),
		SuccessURL: req.Success,
		CancelURL:  req.Cancel,
	}
	if params.SuccessURL == "" {
		params.SuccessURL = s.cfg.CheckoutSuccessURL
	}
	if params.CancelURL == "" {
		params.CancelURL = s.cfg.CheckoutCancelURL
	}
	if user.BillingCustomerID != nil {
		params.CustomerID = *user.BillingCustomerID
	}

	if req.TopUp {
		if catalog.TopUp.PriceID == "" {
			return nil, domain.ErrUnknownPrice
		}
		params.Mode = domain.CheckoutModePayment
		params.PriceID = catalog.TopUp.PriceID
	} else {
		plan, ok := catalog.PlanByID(req.PlanID)
		if !ok {
			return nil, domain.ErrUnknownPrice
		}
		params.Mode = domain.CheckoutModeSubscription
		params.PriceID = plan.PriceID
	}

	return s.provider.CreateCheckoutSession(ctx, params)
}

// CreatePortal opens a hosted billing portal session for the user.
func (s *Service) CreatePortal(ctx context.Context, userID snowflake.ID) (*domain.PortalSession, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	if user.BillingCustomerID == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return s.provider.CreatePortalSession(ctx, *user.BillingCustomerID, s.cfg.PortalReturnURL)
}

// GetCurrentSubscription returns the user's current subscription record.
func (s *Service) GetCurrentSubscription(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindCurrentByUserID(ctx, s.db, userID, domain.LookupStatuses())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// CancelAtPeriodEnd schedules the current subscription to end at period
// close. The provider call happens first; local state is refreshed from the
// response.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	return s.changeSubscription(ctx, userID, func(providerSubID string) (*domain.ProviderSubscription, error) {
		return s.provider.CancelSubscription(ctx, providerSubID, true)
	})
}

// Reactivate removes a pending period-end cancellation.
func (s *Service) Reactivate(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	return s.changeSubscription(ctx, userID, func(providerSubID string) (*domain.ProviderSubscription, error) {
		return s.provider.ReactivateSubscription(ctx, providerSubID)
	})
}

func (s *Service) changeSubscription(ctx context.Context, userID snowflake.ID, change func(string) (*domain.ProviderSubscription, error)) (*domain.Subscription, error) {
	current, err := s.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	provSub, err := change(current.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applySubscriptionState(ctx, tx, user, provSub, now)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByProviderSubscriptionID(ctx, s.db, provSub.ID)
}

// ListInvoices returns recent invoices for the user's billing customer.
func (s *Service) ListInvoices(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Invoice, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	if user.BillingCustomerID == nil {
		return []domain.Invoice{}, nil
	}
	return s.provider.ListInvoices(ctx, *user.BillingCustomerID, limit)
}

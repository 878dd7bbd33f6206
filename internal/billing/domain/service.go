package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// IngestResult reports what a webhook delivery changed.
type IngestResult struct {
	EventID   snowflake.ID
	EventType string
	Applied   bool
}

// CheckoutRequest starts a hosted checkout for a plan or a top-up.
type CheckoutRequest struct {
	UserID  snowflake.ID
	PlanID  string
	TopUp   bool
	Success string
	Cancel  string
}

// Service is the billing application surface.
type Service interface {
	// HandleWebhook verifies, records and applies one provider event.
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error)

	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortal(ctx context.Context, userID snowflake.ID) (*PortalSession, error)
	GetCurrentSubscription(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	Reactivate(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	ListInvoices(ctx context.Context, userID snowflake.ID, limit int) ([]Invoice, error)
}

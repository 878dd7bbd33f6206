package domain

import (
	"context"
	"time"
)

// Event kinds follow provider event names so receipts stay greppable against
// provider dashboards.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
)

// CheckoutMode distinguishes subscription checkouts from one-time top-ups.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// WebhookEvent is the provider-neutral view of a verified webhook payload.
type WebhookEvent struct {
	ProviderEventID string
	Type            string
	// SubscriptionID is set for subscription lifecycle and invoice events.
	SubscriptionID string
	// CustomerID is the provider customer the event belongs to.
	CustomerID string
	// Checkout is set for checkout.session.completed events.
	Checkout *CheckoutCompletion
	Raw      []byte
}

// CheckoutCompletion carries the fields of a completed checkout session that
// the ingestor acts on.
type CheckoutCompletion struct {
	SessionID      string
	Mode           CheckoutMode
	SubscriptionID string
	CustomerID     string
	PriceID        string
	UserID         string
}

// ProviderSubscription is the provider's authoritative subscription state,
// fetched after signature verification rather than trusted from the payload.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
}

// CheckoutSession is a hosted checkout created for a user.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a hosted billing portal session.
type PortalSession struct {
	URL string
}

// Invoice is a summarized invoice for the outbound billing surface.
type Invoice struct {
	ID        string
	Number    string
	Status    string
	AmountDue int64
	Currency  string
	CreatedAt time.Time
	PDFURL    string
}

// CheckoutParams configures a hosted checkout session.
type CheckoutParams struct {
	CustomerID string
	UserID     string
	PriceID    string
	Mode       CheckoutMode
	SuccessURL string
	CancelURL  string
}

// Provider abstracts the billing provider API surface the service needs.
type Provider interface {
	// VerifyWebhook checks the payload signature against the shared secret.
	VerifyWebhook(payload []byte, signatureHeader string) error
	// ParseWebhook decodes a verified payload into a WebhookEvent.
	ParseWebhook(payload []byte) (*WebhookEvent, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProviderSubscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)

	// Name identifies the provider in event receipts.
	Name() string
}

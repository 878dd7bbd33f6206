package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/config"
)

type stubBillingService struct {
	result *billingdomain.IngestResult
	err    error
}

func (s *stubBillingService) HandleWebhook(context.Context, []byte, string) (*billingdomain.IngestResult, error) {
	return s.result, s.err
}

func (s *stubBillingService) CreateCheckout(context.Context, billingdomain.CheckoutRequest) (*billingdomain.CheckoutSession, error) {
	return nil, nil
}

func (s *stubBillingService) CreatePortal(context.Context, snowflake.ID) (*billingdomain.PortalSession, error) {
	return nil, nil
}

func (s *stubBillingService) GetCurrentSubscription(context.Context, snowflake.ID) (*billingdomain.Subscription, error) {
	return nil, nil
}

func (s *stubBillingService) CancelAtPeriodEnd(context.Context, snowflake.ID) (*billingdomain.Subscription, error) {
	return nil, nil
}

func (s *stubBillingService) Reactivate(context.Context, snowflake.ID) (*billingdomain.Subscription, error) {
	return nil, nil
}

func (s *stubBillingService) ListInvoices(context.Context, snowflake.ID, int) ([]billingdomain.Invoice, error) {
	return nil, nil
}

func setupWebhookServer(t *testing.T, billing *stubBillingService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := NewEngine()
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{},
		BillingSvc: billing,
	})
	return engine
}

func postWebhook(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestWebhookHandlerAcksIgnoredEvents(t *testing.T) {
	// An unknown price or event kind is a no-op: acknowledge so the
	// provider stops redelivering.
	engine := setupWebhookServer(t, &stubBillingService{err: billingdomain.ErrEventIgnored})

	w := postWebhook(engine, "/v1/billing/webhooks/stripe")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandlerAcksDuplicates(t *testing.T) {
	engine := setupWebhookServer(t, &stubBillingService{err: billingdomain.ErrEventAlreadyProcessed})

	w := postWebhook(engine, "/v1/billing/webhooks/stripe")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	engine := setupWebhookServer(t, &stubBillingService{err: billingdomain.ErrInvalidSignature})

	w := postWebhook(engine, "/v1/billing/webhooks/stripe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandlerReportsRetryableFailures(t *testing.T) {
	engine := setupWebhookServer(t, &stubBillingService{err: billingdomain.ErrTransactionFailed})

	w := postWebhook(engine, "/v1/billing/webhooks/stripe")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookHandlerRejectsUnknownProvider(t *testing.T) {
	engine := setupWebhookServer(t, &stubBillingService{
		result: &billingdomain.IngestResult{EventType: "noop", Applied: true},
	})

	w := postWebhook(engine, "/v1/billing/webhooks/paypal")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandlerAppliesEvents(t *testing.T) {
	engine := setupWebhookServer(t, &stubBillingService{
		result: &billingdomain.IngestResult{EventType: billingdomain.EventSubscriptionUpdated, Applied: true},
	})

	w := postWebhook(engine, "/v1/billing/webhooks/stripe")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), billingdomain.EventSubscriptionUpdated)
}

// Package stripe implements the billing provider port against the Stripe
// HTTP API. Webhook signatures are verified locally; subscription state is
// always fetched back from the API rather than trusted from event payloads.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/config"
)

type Adapter struct {
	apiBase       string
	apiKey        string
	webhookSecret string
	client        *http.Client
}

// Provide builds the Stripe adapter from configuration.
func Provide(cfg config.Config) domain.Provider {
	return New(cfg.BillingAPIBase, cfg.BillingAPIKey, cfg.BillingWebhookSecret, cfg.BillingTimeout)
}

func New(apiBase, apiKey, webhookSecret string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		apiBase:       strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		apiKey:        strings.TrimSpace(apiKey),
		webhookSecret: strings.TrimSpace(webhookSecret),
		client:        &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) VerifyWebhook(payload []byte, signatureHeader string) error {
	sigHeader := strings.TrimSpace(signatureHeader)
	if sigHeader == "" || a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.WebhookEvent{
		ProviderEventID: event.ID,
		Type:            strings.TrimSpace(event.Type),
		Raw:             payload,
	}

	switch out.Type {
	case domain.EventCheckoutCompleted:
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		if strings.TrimSpace(session.ID) == "" {
			return nil, domain.ErrInvalidEvent
		}
		mode := domain.CheckoutMode(strings.TrimSpace(session.Mode))
		if mode != domain.CheckoutModeSubscription && mode != domain.CheckoutModePayment {
			return nil, domain.ErrEventIgnored
		}
		out.CustomerID = strings.TrimSpace(session.Customer)
		out.Checkout = &domain.CheckoutCompletion{
			SessionID:      session.ID,
			Mode:           mode,
			SubscriptionID: strings.TrimSpace(session.Subscription),
			CustomerID:     strings.TrimSpace(session.Customer),
			PriceID:        readMetadataValue(session.Metadata, "price_id"),
			UserID:         readMetadataValue(session.Metadata, "user_id"),
		}
		return out, nil

	case domain.EventSubscriptionCreated,
		domain.EventSubscriptionUpdated,
		domain.EventSubscriptionDeleted:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		if strings.TrimSpace(sub.ID) == "" {
			return nil, domain.ErrInvalidEvent
		}
		out.SubscriptionID = sub.ID
		out.CustomerID = strings.TrimSpace(sub.Customer)
		return out, nil

	case domain.EventPaymentFailed, domain.EventPaymentSucceeded:
		var invoice stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		out.SubscriptionID = strings.TrimSpace(invoice.Subscription)
		out.CustomerID = strings.TrimSpace(invoice.Customer)
		if out.SubscriptionID == "" {
			return nil, domain.ErrEventIgnored
		}
		return out, nil

	default:
		return nil, domain.ErrEventIgnored
	}
}

func (a *Adapter) GetSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	var sub stripeSubscription
	if err := a.doRequest(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "", &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, domain.ErrProviderUnavailable
	}
	return sub.toDomain(), nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutSession, error) {
	values := url.Values{}
	values.Set("mode", string(params.Mode))
	values.Set("success_url", params.SuccessURL)
	values.Set("cancel_url", params.CancelURL)
	values.Set("line_items[0][price]", params.PriceID)
	values.Set("line_items[0][quantity]", "1")
	values.Set("metadata[user_id]", params.UserID)
	values.Set("metadata[price_id]", params.PriceID)
	if params.Mode == domain.CheckoutModeSubscription {
		values.Set("subscription_data[metadata][user_id]", params.UserID)
	}
	if params.CustomerID != "" {
		values.Set("customer", params.CustomerID)
	}

	var session stripeCheckoutSession
	if err := a.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values, "checkout:"+params.UserID+":"+params.PriceID, &session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, domain.ErrProviderUnavailable
	}
	return &domain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*domain.ProviderSubscription, error) {
	if atPeriodEnd {
		values := url.Values{}
		values.Set("cancel_at_period_end", "true")
		var sub stripeSubscription
		if err := a.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), values, "", &sub); err != nil {
			return nil, err
		}
		return sub.toDomain(), nil
	}

	var sub stripeSubscription
	if err := a.doRequest(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "", &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

func (a *Adapter) ReactivateSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	values := url.Values{}
	values.Set("cancel_at_period_end", "false")
	var sub stripeSubscription
	if err := a.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), values, "", &sub); err != nil {
		return nil, err
	}
	return sub.toDomain(), nil
}

func (a *Adapter) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*domain.PortalSession, error) {
	values := url.Values{}
	values.Set("customer", customerID)
	values.Set("return_url", returnURL)

	var session stripePortalSession
	if err := a.doRequest(ctx, http.MethodPost, "/v1/billing_portal/sessions", values, "", &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, domain.ErrProviderUnavailable
	}
	return &domain.PortalSession{URL: session.URL}, nil
}

func (a *Adapter) ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	path := "/v1/invoices?customer=" + url.QueryEscape(customerID) + "&limit=" + strconv.Itoa(limit)

	var list stripeInvoiceList
	if err := a.doRequest(ctx, http.MethodGet, path, nil, "", &list); err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(list.Data))
	for _, inv := range list.Data {
		invoices = append(invoices, domain.Invoice{
			ID:        inv.ID,
			Number:    inv.Number,
			Status:    inv.Status,
			AmountDue: inv.AmountDue,
			Currency:  strings.ToUpper(strings.TrimSpace(inv.Currency)),
			CreatedAt: unixTime(inv.Created),
			PDFURL:    inv.InvoicePDF,
		})
	}
	return invoices, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s stripeSubscription) toDomain() *domain.ProviderSubscription {
	priceID := ""
	if len(s.Items.Data) > 0 {
		priceID = s.Items.Data[0].Price.ID
	}
	return &domain.ProviderSubscription{
		ID:                 s.ID,
		CustomerID:         s.Customer,
		Status:             strings.TrimSpace(s.Status),
		PriceID:            priceID,
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unixTimePtr(s.CanceledAt),
		TrialStart:         unixTimePtr(s.TrialStart),
		TrialEnd:           unixTimePtr(s.TrialEnd),
		Metadata:           s.Metadata,
	}
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Status       string `json:"status"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Created      int64  `json:"created"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	InvoicePDF   string `json:"invoice_pdf"`
}

type stripeInvoiceList struct {
	Data []stripeInvoice `json:"data"`
}

type stripePortalSession struct {
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if a.apiKey == "" {
		return domain.ErrProviderUnavailable
	}

	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, a.apiBase+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Join(domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return domain.ErrProviderUnavailable
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			return domain.ErrProviderUnavailable
		}
		return errors.Join(domain.ErrProviderUnavailable, errors.New(message))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(domain.ErrProviderUnavailable, err)
	}
	return nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func unixTimePtr(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func readMetadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

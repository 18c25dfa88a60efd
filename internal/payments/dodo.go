package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/InfographicAI/internal/models"
)

const (
	ProviderName = "dodo"

	testBaseURL = "https://test.dodopayments.com"
	liveBaseURL = "https://live.dodopayments.com"
)

type Config struct {
	APIKey      string
	Environment string
	ReturnURL   string
	// BaseURL overrides the environment's API host.
	BaseURL string
	Timeout time.Duration
}

// Client opens hosted checkout sessions on Dodo Payments.
type Client struct {
	apiKey     string
	baseURL    string
	returnURL  string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = testBaseURL
		if cfg.Environment == "live_mode" {
			baseURL = liveBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: cfg.ReturnURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type checkoutProduct struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	ProductCart               []checkoutProduct `json:"product_cart"`
	Customer                  map[string]string `json:"customer"`
	BillingAddress            map[string]string `json:"billing_address"`
	MinimalAddress            bool              `json:"minimal_address"`
	ReturnURL                 string            `json:"return_url"`
	AllowedPaymentMethodTypes []string          `json:"allowed_payment_method_types"`
	Metadata                  map[string]string `json:"metadata"`
	FeatureFlags              map[string]bool   `json:"feature_flags"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	URL         string `json:"url"`
}

// CreateCheckoutSession opens a one-item checkout and returns its redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, in models.CheckoutRequest) (*models.CheckoutSession, error) {
	customer := map[string]string{"email": in.CustomerEmail}
	if in.CustomerName != "" {
		customer["name"] = in.CustomerName
	}
	payload := checkoutRequest{
		ProductCart:               []checkoutProduct{{ProductID: in.ProductID, Quantity: 1}},
		Customer:                  customer,
		BillingAddress:            map[string]string{"country": in.BillingCountry},
		MinimalAddress:            true,
		ReturnURL:                 c.returnURL,
		AllowedPaymentMethodTypes: []string{"credit", "debit", "apple_pay", "google_pay"},
		Metadata:                  in.Metadata,
		FeatureFlags: map[string]bool{
			"allow_customer_editing_email":   true,
			"allow_customer_editing_country": true,
			"allow_discount_code":            false,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.ExternalError{Service: ProviderName, Kind: models.FailureTransient, Err: fmt.Errorf("checkout request: %w", err)}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("dodo checkout failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, &models.ExternalError{
			Service: ProviderName,
			Kind:    kindFromStatus(resp.StatusCode),
			Err:     fmt.Errorf("checkout status=%d body=%s", resp.StatusCode, truncateBody(rawBody)),
		}
	}

	var parsed checkoutResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode checkout response: %w (body=%s)", err, truncateBody(rawBody))
	}
	session := &models.CheckoutSession{URL: parsed.CheckoutURL, SessionID: parsed.SessionID}
	if session.URL == "" {
		session.URL = parsed.URL
	}
	if session.SessionID == "" {
		session.SessionID = parsed.ID
	}
	if session.URL == "" {
		return nil, &models.ExternalError{Service: ProviderName, Kind: models.FailureUnknown, Err: fmt.Errorf("checkout response has no url")}
	}
	return session, nil
}

func kindFromStatus(status int) models.FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.FailureAuth
	case status == http.StatusTooManyRequests:
		return models.FailureRateLimit
	case status >= 500:
		return models.FailureTransient
	default:
		return models.FailureUnknown
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

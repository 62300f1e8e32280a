/**
 * @description
 * This package provides a client for the payment gateway's REST API. It
 * encapsulates the logic for making authenticated HTTP requests, building
 * request bodies, and parsing responses.
 *
 * The client is the single trusted source of payment state: inbound webhook
 * payloads are routing hints only, and every state mutation in the service is
 * preceded by a confirmatory GetPayment call through this client.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 */
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"
)

var (
	// ErrUnreachable indicates a network failure or timeout talking to the
	// gateway. Webhook-path callers persist an error marker and still ack;
	// synchronous callers surface it as a 502/503. Never retried internally.
	ErrUnreachable = errors.New("payment gateway unreachable")

	// ErrPaymentNotFound indicates the gateway has no record of the payment
	// id. Permanent; retrying cannot succeed.
	ErrPaymentNotFound = errors.New("payment not found at gateway")

	// ErrUnauthorized indicates credential misconfiguration. Fatal for the
	// request; an operator has to rotate or fix the access token.
	ErrUnauthorized = errors.New("payment gateway rejected credentials")
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient creates a new gateway API client with a bounded request timeout
// so no caller can block indefinitely on gateway latency.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PreferenceItem describes one line of a checkout preference.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

// PreferencePayer carries payer identity into the checkout preference.
type PreferencePayer struct {
	Name           string `json:"name,omitempty"`
	Surname        string `json:"surname,omitempty"`
	Email          string `json:"email"`
	Identification *struct {
		Type   string `json:"type,omitempty"`
		Number string `json:"number,omitempty"`
	} `json:"identification,omitempty"`
}

// BackURLs are the return destinations the gateway redirects the payer to.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest is the payload for creating a checkout preference.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             PreferencePayer  `json:"payer"`
	ExternalReference string           `json:"external_reference"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	NotificationURL   string           `json:"notification_url"`
}

// PreferenceResponse is the gateway's answer to a preference creation.
type PreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

// PaymentResponse is the authoritative state of one payment at the gateway.
type PaymentResponse struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail,omitempty"`
	TransactionAmount float64 `json:"transaction_amount"`
	ExternalReference string  `json:"external_reference"`
	PaymentMethodID   string  `json:"payment_method_id,omitempty"`
	PaymentTypeID     string  `json:"payment_type_id,omitempty"`
	DateApproved      string  `json:"date_approved,omitempty"`
}

// AmountCents converts the gateway's decimal amount into cents.
func (p *PaymentResponse) AmountCents() int64 {
	return int64(math.Round(p.TransactionAmount * 100))
}

// APIError represents a structured error response from the gateway.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway api error (status %d)", e.StatusCode)
}

// CreatePreference asks the gateway to create a checkout preference. The
// caller owns any retry budget; this method performs exactly one request.
func (c *Client) CreatePreference(ctx context.Context, reqPayload PreferenceRequest) (*PreferenceResponse, error) {
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/checkout/preferences", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create preference request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=gateway_client op=create_preference external_reference=%s msg=\"request failed\" err=%v", reqPayload.ExternalReference, err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read preference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyError(resp.StatusCode, bodyBytes, "create_preference")
	}

	var prefResp PreferenceResponse
	if err := json.Unmarshal(bodyBytes, &prefResp); err != nil {
		return nil, fmt.Errorf("failed to decode preference response: %w", err)
	}
	return &prefResp, nil
}

// GetPayment fetches the authoritative status/amount/external-reference for a
// payment id. This is the only trusted source of payment truth.
func (c *Client) GetPayment(ctx context.Context, gatewayPaymentID string) (*PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/payments/"+gatewayPaymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=gateway_client op=get_payment payment_id=%s msg=\"request failed\" err=%v", gatewayPaymentID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyError(resp.StatusCode, bodyBytes, "get_payment")
	}

	var payResp PaymentResponse
	if err := json.Unmarshal(bodyBytes, &payResp); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}
	return &payResp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
}

func (c *Client) classifyError(statusCode int, body []byte, op string) error {
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil {
		log.Printf("level=warn component=gateway_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, statusCode)
	} else {
		log.Printf("level=warn component=gateway_client op=%s status=%d message=%q", op, statusCode, apiErr.Message)
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, apiErr.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	default:
		return apiErr
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"settlement-service/internal/config"
	"settlement-service/internal/payment"
)

const defaultTimeoutMs = 10_000

// FetchError marks a failed status query. It is transient from the caller's
// point of view: polling absorbs it into the backoff loop.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetching provider status: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// CaptureError marks a failed capture call. It is not retried automatically;
// the orchestrator records it on the payment.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capturing payment: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

type paymentResponse struct {
	Reference string `json:"reference"`
	State     string `json:"state"`
	Amount    int    `json:"amount"`
}

type CaptureResult struct {
	Reference string `json:"reference"`
	State     string `json:"state"`
	Amount    int    `json:"amount"`
}

// Client talks to the payment provider's HTTP API. It is side-effect-free
// against the payment store; FetchStatus is a pure read, Capture mutates
// provider state only.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(cfg config.Provider, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger:  logger,
	}
}

func (c *Client) FetchStatus(ctx context.Context, orderRef string) (payment.ProviderStatus, error) {
	url := fmt.Sprintf("%s/payments/%s", c.baseURL, orderRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &FetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{Err: err}
	}

	if resp.StatusCode >= 400 {
		c.logger.ErrorContext(ctx, "Provider status query returned error response", "status", resp.Status, "reference", orderRef)
		return "", &FetchError{Err: fmt.Errorf("error response: %s", resp.Status)}
	}

	var parsed paymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &FetchError{Err: err}
	}

	status := payment.NormalizeProviderStatus(parsed.State)
	c.logger.InfoContext(ctx, "Fetched provider status", "reference", orderRef, "state", status)
	return status, nil
}

func (c *Client) Capture(ctx context.Context, orderRef string) (*CaptureResult, error) {
	url := fmt.Sprintf("%s/payments/%s/capture", c.baseURL, orderRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString("{}"))
	if err != nil {
		return nil, &CaptureError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// The order reference doubles as the idempotency key: repeating a
	// capture for the same reference must not charge twice.
	req.Header.Set("Idempotency-Key", orderRef)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &CaptureError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CaptureError{Err: err}
	}

	if resp.StatusCode >= 400 {
		c.logger.ErrorContext(ctx, "Provider capture returned error response", "status", resp.Status, "reference", orderRef)
		return nil, &CaptureError{Err: fmt.Errorf("error response: %s", resp.Status)}
	}

	var result CaptureResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &CaptureError{Err: err}
	}

	c.logger.InfoContext(ctx, "Captured payment", "reference", orderRef, "state", result.State)
	return &result, nil
}

// Package issuing talks to the external card issuing partner over HTTP.
package issuing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	headerContentType    = "Content-Type"
	headerIdempotencyKey = "Idempotency-Key"
	contentTypeJSON      = "application/json"
	pathCards            = "/v1/cards"
	pathCardStatusFormat = "/v1/cards/%s/status"
	maxErrorBodyBytes    = 4096

	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 100 * time.Millisecond
)

// ErrRejected reports a 4xx answer. The partner refused the request and retrying will not help.
var ErrRejected = fmt.Errorf("%w: 4xx answer", ledger.ErrPartnerRejected)

// Client implements ledger.IssuingPartner. Every call carries the ledger's idempotency key so that
// retries after a timeout never register a card twice.
type Client struct {
	base        string
	http        *http.Client
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.http = httpClient
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithRetry bounds the attempts per call.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(client *Client) {
		if maxAttempts > 0 {
			client.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			client.backoff = backoff
		}
	}
}

// New returns a Client for the partner API rooted at base.
func New(base string, options ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: issuing partner url %q", ledger.ErrInvalidServiceConfig, base)
	}
	client := &Client{
		base:        trimmed,
		http:        &http.Client{Timeout: defaultTimeout},
		logger:      zap.NewNop(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

type registerCardPayload struct {
	CardID       string `json:"card_id"`
	Token        string `json:"token"`
	OperatorID   string `json:"operator_id"`
	CardholderID string `json:"cardholder_id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	MonthlyLimit string `json:"monthly_limit"`
}

type statusChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RegisterCard announces a new card.
func (client *Client) RegisterCard(ctx context.Context, registration ledger.CardRegistration) error {
	payload := registerCardPayload{
		CardID:       registration.CardID.String(),
		Token:        registration.Token,
		OperatorID:   registration.OperatorID.String(),
		CardholderID: registration.CardholderID.String(),
		Type:         registration.Type.String(),
		Status:       registration.Status.String(),
		MonthlyLimit: registration.MonthlyLimit.String(),
	}
	return client.post(ctx, client.base+pathCards, registration.IdempotencyKey, payload)
}

// UpdateCardStatus announces a status transition.
func (client *Client) UpdateCardStatus(ctx context.Context, change ledger.CardStatusChange) error {
	target := client.base + fmt.Sprintf(pathCardStatusFormat, url.PathEscape(change.Token))
	payload := statusChangePayload{From: change.From.String(), To: change.To.String()}
	return client.post(ctx, target, change.IdempotencyKey, payload)
}

func (client *Client) post(ctx context.Context, target string, idempotencyKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode partner request: %w", err)
	}
	var lastErr error
	for attempt := 1; attempt <= client.maxAttempts; attempt++ {
		retryable, err := client.send(ctx, target, idempotencyKey, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == client.maxAttempts {
			break
		}
		client.logger.Warn("issuing partner call failed, retrying",
			zap.String("target", target),
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(client.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// send performs one request and reports whether a failure may be retried.
func (client *Client) send(ctx context.Context, target string, idempotencyKey string, body []byte) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build partner request: %w", err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerIdempotencyKey, idempotencyKey)

	response, err := client.http.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("partner request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, response.Body)
		return false, nil
	}
	responseBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	failure := fmt.Errorf("partner status=%d body=%s", response.StatusCode, strings.TrimSpace(string(responseBody)))
	if response.StatusCode/100 == 4 && response.StatusCode != http.StatusTooManyRequests {
		return false, fmt.Errorf("%w: %w", ErrRejected, failure)
	}
	return true, failure
}

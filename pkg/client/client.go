// Package client talks to the settle payment API and drives checkout retries
// on behalf of an interactive front end.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatflowers/settle/pkg/response"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 20 * time.Second

type CheckoutRequest struct {
	Email           string          `json:"email"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	IntentReference string          `json:"intent_reference,omitempty"`
	FileID          string          `json:"file_id"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Rail            types.Rail      `json:"rail"`
}

type CheckoutResult struct {
	IntentReference  string              `json:"intent_reference"`
	AttemptReference string              `json:"attempt_reference"`
	RedirectURL      string              `json:"redirect_url"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	PaymentStatus    types.PaymentStatus `json:"payment_status"`
}

type Status struct {
	IntentReference  string              `json:"intent_reference"`
	AttemptReference string              `json:"attempt_reference"`
	PaymentStatus    types.PaymentStatus `json:"payment_status"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	DownloadToken    string              `json:"download_token,omitempty"`
	DownloadURL      string              `json:"download_url,omitempty"`
}

// Error is a failure reported by the API or the network between us and it.
type Error struct {
	HTTPStatus int
	Type       types.ErrorType
	Message    string
	Retryable  bool
	// Offline is set when the request never got an HTTP response.
	Offline bool
	Err     error
}

func (e *Error) Error() string {
	if e.Offline {
		return fmt.Sprintf("network: %v", e.Err)
	}
	return fmt.Sprintf("%s error (%d): %s", e.Type, e.HTTPStatus, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth trying again without user input.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Retryable || e.Offline)
}

func IsOffline(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Offline
}

// IsConflict reports a 409 from checkout: the intent is closed and a new
// checkout session is needed.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.HTTPStatus == http.StatusConflict
}

// Client is a thin JSON client for the payment routes.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping checks that the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err
}

func (c *Client) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/v1/payment/checkout", req)
	if err != nil {
		return nil, err
	}
	var out CheckoutResult
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("decode checkout result: %w", err)
	}
	return &out, nil
}

// Verify asks the API to reconcile an attempt. A settled payment that did not
// complete is returned as a Status, not an error. While the rail is
// unreachable the pending Status comes back together with a retryable Error.
func (c *Client) Verify(ctx context.Context, intentRef, attemptRef string) (*Status, error) {
	q := url.Values{"intent_reference": {intentRef}}
	if attemptRef != "" {
		q.Set("attempt_reference", attemptRef)
	}
	env, err := c.do(ctx, http.MethodGet, "/api/v1/payment/verify?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var st Status
	if uerr := json.Unmarshal(env.Data, &st); uerr != nil {
		return nil, fmt.Errorf("decode verify result: %w", uerr)
	}
	if st.PaymentStatus == "" {
		st.PaymentStatus = env.PaymentStatus
	}
	if env.Type == types.ErrorTypeGateway {
		return &st, apiError(http.StatusOK, env)
	}
	return &st, nil
}

type envelope = response.APIResponse[json.RawMessage]

// do returns the envelope for every 2xx answer, including status "error"
// envelopes that carry a payment status. Anything else is an *Error.
func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Offline: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Offline: true, Err: err}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{
			HTTPStatus: resp.StatusCode,
			Type:       types.ErrorTypeDeveloper,
			Message:    fmt.Sprintf("unexpected response: %.120s", raw),
			Retryable:  resp.StatusCode >= 500,
		}
	}
	if resp.StatusCode/100 != 2 {
		return nil, apiError(resp.StatusCode, &env)
	}
	if env.Status == response.StatusError && env.PaymentStatus == "" {
		return nil, apiError(resp.StatusCode, &env)
	}
	return &env, nil
}

func apiError(code int, env *envelope) *Error {
	e := &Error{HTTPStatus: code, Type: env.Type, Message: env.Message}
	if d, ok := env.Details.(map[string]any); ok {
		if r, ok := d["retryable"].(bool); ok {
			e.Retryable = r
		}
	}
	if env.Type != types.ErrorTypeGateway && code >= 500 {
		e.Retryable = true
	}
	return e
}

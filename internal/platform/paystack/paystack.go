// Package paystack is the card and bank transfer rail.
package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

const SignatureHeader = "X-Paystack-Signature"

type Adapter struct {
	cfg    config.RailConfig
	client *gateway.Client
}

// New returns nil when the rail is disabled.
func New(cfg *config.Config) gateway.Adapter {
	if !cfg.Gateway.Paystack.Enabled {
		return nil
	}
	return NewAdapter(cfg.Gateway.Paystack, cfg.Gateway.Timeout)
}

func NewAdapter(cfg config.RailConfig, timeout time.Duration) *Adapter {
	a := &Adapter{cfg: cfg}
	a.client = &gateway.Client{
		Rail:    types.RailPaystack,
		BaseURL: cfg.BaseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Auth: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
		},
	}
	return a
}

func (a *Adapter) Rail() types.Rail { return types.RailPaystack }

// MapStatus maps Paystack's transaction vocabulary onto the canonical status.
// Unknown values are treated as still pending.
func MapStatus(s string) types.PaymentStatus {
	switch strings.ToLower(s) {
	case "success":
		return types.PaymentStatusCompleted
	case "failed":
		return types.PaymentStatusFailed
	case "abandoned":
		return types.PaymentStatusAbandoned
	case "reversed", "refunded":
		return types.PaymentStatusRefunded
	}
	return types.PaymentStatusPending
}

// toSubunit converts a major-unit amount to kobo/pesewas/cents.
func toSubunit(amount decimal.Decimal) (int64, bool) {
	minor := amount.Shift(2)
	return minor.IntPart(), minor.IsInteger() && minor.IsPositive()
}

func fromSubunit(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Shift(-2)
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type transaction struct {
	ID              int64   `json:"id"`
	Status          string  `json:"status"`
	Reference       string  `json:"reference"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	PaidAt          *string `json:"paid_at"`
	GatewayResponse string  `json:"gateway_response"`
	Channel         string  `json:"channel"`
}

func (a *Adapter) Initiate(ctx context.Context, in *gateway.InitiateInput) (*gateway.InitiateOutput, error) {
	if a.cfg.SecretKey == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "secret key is not configured")
	}
	currency := strings.ToUpper(in.Currency)
	if !lo.Contains(a.cfg.Currencies, currency) {
		return nil, gateway.Permanent(a.Rail(), "initiate", "currency %s is not supported", currency)
	}
	subunits, ok := toSubunit(in.Amount)
	if !ok {
		return nil, gateway.Permanent(a.Rail(), "initiate", "amount %s cannot be charged in %s", in.Amount, currency)
	}

	body := map[string]any{
		"email":        in.Customer.Email,
		"amount":       fmt.Sprint(subunits),
		"currency":     currency,
		"reference":    in.AttemptReference,
		"callback_url": in.CallbackURL,
		"metadata": map[string]any{
			"intent_reference": in.IntentReference,
			"file_id":          in.FileID,
			"customer_name":    in.Customer.Name,
			"customer_phone":   in.Customer.Phone,
		},
	}
	var out envelope[initializeData]
	if err := a.client.Do(ctx, "initiate", http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "initialize rejected: %s", out.Message)
	}
	return &gateway.InitiateOutput{ProviderReference: out.Data.AccessCode, RedirectURL: out.Data.AuthorizationURL}, nil
}

func (a *Adapter) Verify(ctx context.Context, attempt *models.Attempt) (*gateway.VerifyResult, error) {
	var out envelope[transaction]
	path := "/transaction/verify/" + url.PathEscape(attempt.AttemptReference)
	if err := a.client.Do(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	tx := out.Data
	res := &gateway.VerifyResult{
		Status:         MapStatus(tx.Status),
		ProviderStatus: tx.Status,
		Currency:       tx.Currency,
		Detail: map[string]any{
			"transaction_id":   tx.ID,
			"gateway_response": tx.GatewayResponse,
			"channel":          tx.Channel,
		},
	}
	if tx.Amount > 0 {
		res.Amount = decimal.NewNullDecimal(fromSubunit(tx.Amount))
	}
	if tx.PaidAt != nil {
		if t, err := time.Parse(time.RFC3339, *tx.PaidAt); err == nil {
			res.PaidAt = &t
		}
	}
	return res, nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA512 of the body. Paystack
// signs with the secret key unless a dedicated webhook secret is set.
func (a *Adapter) VerifyWebhookSignature(body []byte, header http.Header) bool {
	secret := lo.Ternary(a.cfg.WebhookSecret != "", a.cfg.WebhookSecret, a.cfg.SecretKey)
	return gateway.Signed(secret, a.cfg.InsecureSkipSignature, func(key []byte) bool {
		got, err := hex.DecodeString(header.Get(SignatureHeader))
		if err != nil {
			return false
		}
		mac := hmac.New(sha512.New, key)
		mac.Write(body)
		return gateway.EqualMAC(mac.Sum(nil), got)
	})
}

type webhookBody struct {
	Event string      `json:"event"`
	Data  transaction `json:"data"`
}

func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, err
	}
	if wb.Data.Reference == "" {
		return nil, nil
	}
	status := wb.Data.Status
	if strings.HasPrefix(wb.Event, "refund.") {
		status = "reversed"
	}
	ev := &gateway.WebhookEvent{
		ProviderEventID:  fmt.Sprintf("%s:%d:%s", wb.Event, wb.Data.ID, status),
		AttemptReference: wb.Data.Reference,
		Status:           MapStatus(status),
		ProviderStatus:   status,
		Currency:         wb.Data.Currency,
		Detail: map[string]any{
			"event":            wb.Event,
			"transaction_id":   wb.Data.ID,
			"gateway_response": wb.Data.GatewayResponse,
		},
	}
	if wb.Data.Amount > 0 {
		ev.Amount = decimal.NewNullDecimal(fromSubunit(wb.Data.Amount))
	}
	return ev, nil
}

var Module = fx.Options(
	fx.Provide(gateway.AsRail(New)),
)

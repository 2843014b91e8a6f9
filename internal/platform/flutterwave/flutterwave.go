// Package flutterwave is the mobile money rail.
package flutterwave

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

const SignatureHeader = "Flutterwave-Signature"

// paymentOptions restricts the hosted page to mobile money channels.
const paymentOptions = "mobilemoneyghana,mobilemoneyuganda,mobilemoneyrwanda,mobilemoneyzambia,mobilemoneyfranco,mpesa,mobilemoneytanzania"

type Adapter struct {
	cfg    config.RailConfig
	client *gateway.Client
}

func New(cfg *config.Config) gateway.Adapter {
	if !cfg.Gateway.Flutterwave.Enabled {
		return nil
	}
	return NewAdapter(cfg.Gateway.Flutterwave, cfg.Gateway.Timeout)
}

func NewAdapter(cfg config.RailConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		cfg: cfg,
		client: &gateway.Client{
			Rail:    types.RailFlutterwave,
			BaseURL: cfg.BaseURL,
			HTTP:    &http.Client{Timeout: timeout},
			Auth: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+cfg.SecretKey)
			},
		},
	}
}

func (a *Adapter) Rail() types.Rail { return types.RailFlutterwave }

func MapStatus(s string) types.PaymentStatus {
	switch strings.ToLower(s) {
	case "successful", "success", "completed":
		return types.PaymentStatusCompleted
	case "failed", "expired":
		return types.PaymentStatusFailed
	case "cancelled", "canceled", "abandoned":
		return types.PaymentStatusAbandoned
	case "refunded", "reversed":
		return types.PaymentStatusRefunded
	}
	return types.PaymentStatusPending
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type transaction struct {
	ID          int64               `json:"id"`
	TxRef       string              `json:"tx_ref"`
	FlwRef      string              `json:"flw_ref"`
	Status      string              `json:"status"`
	Amount      decimal.NullDecimal `json:"amount"`
	Currency    string              `json:"currency"`
	PaymentType string              `json:"payment_type"`
	CreatedAt   *time.Time          `json:"created_at"`
}

func (a *Adapter) Initiate(ctx context.Context, in *gateway.InitiateInput) (*gateway.InitiateOutput, error) {
	if a.cfg.SecretKey == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "secret key is not configured")
	}
	currency := strings.ToUpper(in.Currency)
	if !lo.Contains(a.cfg.Currencies, currency) {
		return nil, gateway.Permanent(a.Rail(), "initiate", "currency %s is not supported", currency)
	}

	body := map[string]any{
		"tx_ref":          in.AttemptReference,
		"amount":          in.Amount.String(),
		"currency":        currency,
		"redirect_url":    in.CallbackURL,
		"payment_options": paymentOptions,
		"customer": map[string]any{
			"email":       in.Customer.Email,
			"name":        in.Customer.Name,
			"phonenumber": in.Customer.Phone,
		},
		"meta": map[string]any{
			"intent_reference": in.IntentReference,
			"file_id":          in.FileID,
		},
		"customizations": map[string]any{"title": in.FileID},
	}
	var out envelope[struct {
		Link string `json:"link"`
	}]
	if err := a.client.Do(ctx, "initiate", http.MethodPost, "/v3/payments", body, &out); err != nil {
		return nil, err
	}
	if out.Status != "success" || out.Data.Link == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "payment rejected: %s", out.Message)
	}
	// Flutterwave keys everything by tx_ref until a charge exists.
	return &gateway.InitiateOutput{ProviderReference: in.AttemptReference, RedirectURL: out.Data.Link}, nil
}

func (a *Adapter) Verify(ctx context.Context, attempt *models.Attempt) (*gateway.VerifyResult, error) {
	var out envelope[transaction]
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(attempt.AttemptReference)
	if err := a.client.Do(ctx, "verify", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	tx := out.Data
	res := &gateway.VerifyResult{
		Status:         MapStatus(tx.Status),
		ProviderStatus: tx.Status,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Detail: map[string]any{
			"transaction_id": tx.ID,
			"flw_ref":        tx.FlwRef,
			"payment_type":   tx.PaymentType,
		},
	}
	if res.Status == types.PaymentStatusCompleted {
		res.PaidAt = tx.CreatedAt
	}
	return res, nil
}

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of the raw body.
func (a *Adapter) VerifyWebhookSignature(body []byte, header http.Header) bool {
	return gateway.Signed(a.cfg.WebhookSecret, a.cfg.InsecureSkipSignature, func(key []byte) bool {
		got, err := base64.StdEncoding.DecodeString(header.Get(SignatureHeader))
		if err != nil {
			return false
		}
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		return gateway.EqualMAC(mac.Sum(nil), got)
	})
}

type webhookBody struct {
	ID    string      `json:"id"`
	Event string      `json:"event"`
	Data  transaction `json:"data"`
}

func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, err
	}
	if wb.Data.TxRef == "" {
		return nil, nil
	}
	eventID := wb.ID
	if eventID == "" {
		eventID = fmt.Sprintf("%s:%d:%s", wb.Event, wb.Data.ID, strings.ToLower(wb.Data.Status))
	}
	return &gateway.WebhookEvent{
		ProviderEventID:  eventID,
		AttemptReference: wb.Data.TxRef,
		Status:           MapStatus(wb.Data.Status),
		ProviderStatus:   wb.Data.Status,
		Amount:           wb.Data.Amount,
		Currency:         wb.Data.Currency,
		Detail: map[string]any{
			"event":          wb.Event,
			"transaction_id": wb.Data.ID,
			"flw_ref":        wb.Data.FlwRef,
		},
	}, nil
}

var Module = fx.Options(
	fx.Provide(gateway.AsRail(New)),
)

// Package nowpayments is the cryptocurrency rail. The customer is priced in
// fiat and pays in a coin at the rate NOWPayments quotes; settle never
// converts currencies itself and only records the quoted rate.
package nowpayments

import (
	"bytes"
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

const SignatureHeader = "X-Nowpayments-Sig"

type Adapter struct {
	cfg    config.RailConfig
	client *gateway.Client
}

func New(cfg *config.Config) gateway.Adapter {
	if !cfg.Gateway.NowPayments.Enabled {
		return nil
	}
	return NewAdapter(cfg.Gateway.NowPayments, cfg.Gateway.Timeout)
}

func NewAdapter(cfg config.RailConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		cfg: cfg,
		client: &gateway.Client{
			Rail:    types.RailNowPayments,
			BaseURL: cfg.BaseURL,
			HTTP:    &http.Client{Timeout: timeout},
			Auth: func(req *http.Request) {
				req.Header.Set("x-api-key", cfg.SecretKey)
			},
		},
	}
}

func (a *Adapter) Rail() types.Rail { return types.RailNowPayments }

func MapStatus(s string) types.PaymentStatus {
	switch strings.ToLower(s) {
	case "finished", "confirmed":
		return types.PaymentStatusCompleted
	case "failed", "expired":
		return types.PaymentStatusFailed
	case "refunded":
		return types.PaymentStatusRefunded
	}
	// waiting, confirming, sending, partially_paid
	return types.PaymentStatusPending
}

type invoice struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
	OrderID    string      `json:"order_id"`
}

type payment struct {
	PaymentID     json.Number         `json:"payment_id"`
	InvoiceID     json.Number         `json:"invoice_id"`
	PaymentStatus string              `json:"payment_status"`
	PriceAmount   decimal.NullDecimal `json:"price_amount"`
	PriceCurrency string              `json:"price_currency"`
	PayAmount     decimal.NullDecimal `json:"pay_amount"`
	ActuallyPaid  decimal.NullDecimal `json:"actually_paid"`
	PayCurrency   string              `json:"pay_currency"`
	OrderID       string              `json:"order_id"`
	UpdatedAt     *time.Time          `json:"updated_at"`
}

// rate is the fiat price of one unit of the pay currency as quoted by NOWPayments.
func (p *payment) rate() (decimal.Decimal, bool) {
	if !p.PriceAmount.Valid || !p.PayAmount.Valid || p.PayAmount.Decimal.IsZero() {
		return decimal.Zero, false
	}
	return p.PriceAmount.Decimal.DivRound(p.PayAmount.Decimal, 8), true
}

func (p *payment) detail() map[string]any {
	d := map[string]any{
		"payment_id":   p.PaymentID.String(),
		"invoice_id":   p.InvoiceID.String(),
		"pay_currency": p.PayCurrency,
	}
	if p.PayAmount.Valid {
		d["pay_amount"] = p.PayAmount.Decimal.String()
	}
	if p.ActuallyPaid.Valid {
		d["actually_paid"] = p.ActuallyPaid.Decimal.String()
	}
	if r, ok := p.rate(); ok {
		d["rate"] = r.String()
	}
	return d
}

// paidAmount is the fiat value credited. Partial payments report no amount
// so a short payment can never satisfy the reconciler's amount check.
func (p *payment) paidAmount() decimal.NullDecimal {
	if MapStatus(p.PaymentStatus) != types.PaymentStatusCompleted {
		return decimal.NullDecimal{}
	}
	return p.PriceAmount
}

func (a *Adapter) Initiate(ctx context.Context, in *gateway.InitiateInput) (*gateway.InitiateOutput, error) {
	if a.cfg.SecretKey == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "api key is not configured")
	}
	currency := strings.ToUpper(in.Currency)
	if !lo.Contains(a.cfg.Currencies, currency) {
		return nil, gateway.Permanent(a.Rail(), "initiate", "price currency %s is not supported", currency)
	}
	body := map[string]any{
		"price_amount":      json.Number(in.Amount.String()),
		"price_currency":    strings.ToLower(currency),
		"order_id":          in.AttemptReference,
		"order_description": fmt.Sprintf("%s / %s", in.IntentReference, in.FileID),
		"success_url":       in.CallbackURL,
		"cancel_url":        in.CallbackURL,
	}
	var out invoice
	if err := a.client.Do(ctx, "initiate", http.MethodPost, "/v1/invoice", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.InvoiceURL == "" {
		return nil, gateway.Permanent(a.Rail(), "initiate", "invoice response is missing id or url")
	}
	return &gateway.InitiateOutput{ProviderReference: out.ID.String(), RedirectURL: out.InvoiceURL}, nil
}

// Verify looks up the latest payment made against the attempt's invoice. An
// invoice nobody has paid yet is still waiting.
func (a *Adapter) Verify(ctx context.Context, attempt *models.Attempt) (*gateway.VerifyResult, error) {
	if attempt.ProviderReference == nil || *attempt.ProviderReference == "" {
		return nil, gateway.Permanent(a.Rail(), "verify", "attempt %s has no invoice", attempt.AttemptReference)
	}
	q := url.Values{}
	q.Set("invoiceId", *attempt.ProviderReference)
	q.Set("limit", "1")
	q.Set("sortBy", "updated_at")
	q.Set("orderBy", "desc")
	var out struct {
		Data []payment `json:"data"`
	}
	if err := a.client.Do(ctx, "verify", http.MethodGet, "/v1/payment/?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return &gateway.VerifyResult{
			Status:         types.PaymentStatusPending,
			ProviderStatus: "waiting",
			Detail:         map[string]any{"invoice_id": *attempt.ProviderReference},
		}, nil
	}
	p := out.Data[0]
	res := &gateway.VerifyResult{
		Status:         MapStatus(p.PaymentStatus),
		ProviderStatus: p.PaymentStatus,
		Amount:         p.paidAmount(),
		Currency:       strings.ToUpper(p.PriceCurrency),
		Detail:         p.detail(),
	}
	if res.Status == types.PaymentStatusCompleted {
		res.PaidAt = p.UpdatedAt
	}
	return res, nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA512 of the body re-encoded
// with sorted keys, which is what NOWPayments signs.
func (a *Adapter) VerifyWebhookSignature(body []byte, header http.Header) bool {
	return gateway.Signed(a.cfg.WebhookSecret, a.cfg.InsecureSkipSignature, func(key []byte) bool {
		got, err := hex.DecodeString(header.Get(SignatureHeader))
		if err != nil {
			return false
		}
		canonical, err := sortedJSON(body)
		if err != nil {
			return false
		}
		mac := hmac.New(sha512.New, key)
		mac.Write(canonical)
		return gateway.EqualMAC(mac.Sum(nil), got)
	})
}

// sortedJSON re-encodes body with object keys in lexical order, keeping
// numbers exactly as sent.
func sortedJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (a *Adapter) ParseWebhook(body []byte) (*gateway.WebhookEvent, error) {
	var p payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" || p.PaymentStatus == "" {
		return nil, nil
	}
	return &gateway.WebhookEvent{
		ProviderEventID:  fmt.Sprintf("%s:%s", p.PaymentID.String(), strings.ToLower(p.PaymentStatus)),
		AttemptReference: p.OrderID,
		Status:           MapStatus(p.PaymentStatus),
		ProviderStatus:   p.PaymentStatus,
		Amount:           p.paidAmount(),
		Currency:         strings.ToUpper(p.PriceCurrency),
		Detail:           p.detail(),
	}, nil
}

var Module = fx.Options(
	fx.Provide(gateway.AsRail(New)),
)

package nowpayments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.RailConfig {
	return config.RailConfig{
		Enabled:       true,
		BaseURL:       baseURL,
		SecretKey:     "np-key",
		WebhookSecret: "ipn-secret",
		Currencies:    []string{"USD"},
	}
}

func TestInitiate(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoice" || r.Header.Get("x-api-key") != "np-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		raw, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"id":"4522625843","order_id":"att-9","invoice_url":"https://nowpayments.io/payment/?iid=4522625843"}`))
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(srv.URL), time.Second)
	out, err := a.Initiate(context.Background(), &gateway.InitiateInput{
		IntentReference:  "SET-20260101-ABCDEFGHJKMN",
		AttemptReference: "att-9",
		Amount:           decimal.RequireFromString("12.99"),
		Currency:         "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "4522625843", out.ProviderReference)
	require.Equal(t, "https://nowpayments.io/payment/?iid=4522625843", out.RedirectURL)
	require.Contains(t, string(raw), `"price_amount":12.99`)
	require.Contains(t, string(raw), `"price_currency":"usd"`)
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("invoiceId") {
		case "1":
			_, _ = w.Write([]byte(`{"data":[{"payment_id":5524759814,"invoice_id":1,"payment_status":"finished","price_amount":12.99,"price_currency":"usd","pay_amount":0.0002,"actually_paid":0.0002,"pay_currency":"btc","order_id":"att-9","updated_at":"2026-01-02T10:00:00Z"}],"total":1}`))
		case "2":
			_, _ = w.Write([]byte(`{"data":[{"payment_id":77,"invoice_id":2,"payment_status":"partially_paid","price_amount":12.99,"price_currency":"usd","pay_amount":0.0002,"actually_paid":0.0001,"pay_currency":"btc","order_id":"att-10"}],"total":1}`))
		default:
			_, _ = w.Write([]byte(`{"data":[],"total":0}`))
		}
	}))
	defer srv.Close()
	a := NewAdapter(testConfig(srv.URL), time.Second)

	res, err := a.Verify(context.Background(), &models.Attempt{AttemptReference: "att-9", ProviderReference: lo.ToPtr("1")})
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, res.Status)
	require.True(t, res.Amount.Decimal.Equal(decimal.RequireFromString("12.99")))
	require.Equal(t, "64950", res.Detail["rate"])
	require.NotNil(t, res.PaidAt)

	res, err = a.Verify(context.Background(), &models.Attempt{AttemptReference: "att-10", ProviderReference: lo.ToPtr("2")})
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPending, res.Status)
	require.False(t, res.Amount.Valid)
	require.Equal(t, "0.0001", res.Detail["actually_paid"])

	res, err = a.Verify(context.Background(), &models.Attempt{AttemptReference: "att-11", ProviderReference: lo.ToPtr("3")})
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPending, res.Status)
	require.Equal(t, "waiting", res.ProviderStatus)

	_, err = a.Verify(context.Background(), &models.Attempt{AttemptReference: "att-12"})
	require.Error(t, err)
	require.False(t, gateway.IsRetryable(err))
}

func TestMapStatus(t *testing.T) {
	for s, want := range map[string]types.PaymentStatus{
		"finished":       types.PaymentStatusCompleted,
		"confirmed":      types.PaymentStatusCompleted,
		"waiting":        types.PaymentStatusPending,
		"confirming":     types.PaymentStatusPending,
		"sending":        types.PaymentStatusPending,
		"partially_paid": types.PaymentStatusPending,
		"failed":         types.PaymentStatusFailed,
		"expired":        types.PaymentStatusFailed,
		"refunded":       types.PaymentStatusRefunded,
	} {
		require.Equal(t, want, MapStatus(s), s)
	}
}

func TestSortedJSON(t *testing.T) {
	out, err := sortedJSON([]byte(`{"b":1.50,"a":{"d":"x<y","c":null},"order_id":"att-9"}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":{"c":null,"d":"x<y"},"b":1.50,"order_id":"att-9"}`, string(out))
}

func TestWebhook(t *testing.T) {
	body := []byte(`{"payment_status":"finished","payment_id":5524759814,"order_id":"att-9","price_amount":12.99,"price_currency":"usd","pay_amount":0.0002,"pay_currency":"btc"}`)
	canonical, err := sortedJSON(body)
	require.NoError(t, err)
	mac := hmac.New(sha512.New, []byte("ipn-secret"))
	mac.Write(canonical)

	a := NewAdapter(testConfig(""), time.Second)
	h := http.Header{}
	h.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	require.True(t, a.VerifyWebhookSignature(body, h))

	// key order on the wire does not matter
	require.True(t, a.VerifyWebhookSignature([]byte(`{"order_id":"att-9","payment_id":5524759814,"payment_status":"finished","pay_amount":0.0002,"pay_currency":"btc","price_amount":12.99,"price_currency":"usd"}`), h))

	tampered := []byte(`{"payment_status":"finished","payment_id":5524759814,"order_id":"att-9","price_amount":1.00,"price_currency":"usd","pay_amount":0.0002,"pay_currency":"btc"}`)
	require.False(t, a.VerifyWebhookSignature(tampered, h))

	ev, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Equal(t, "att-9", ev.AttemptReference)
	require.Equal(t, "5524759814:finished", ev.ProviderEventID)
	require.Equal(t, types.PaymentStatusCompleted, ev.Status)
	require.Equal(t, "64950", ev.Detail["rate"])
	require.Equal(t, "USD", ev.Currency)

	ev, err = a.ParseWebhook([]byte(`{"status":"ok"}`))
	require.NoError(t, err)
	require.Nil(t, ev)
}

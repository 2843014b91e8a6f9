package flutterwave

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.RailConfig {
	return config.RailConfig{
		Enabled:       true,
		BaseURL:       baseURL,
		SecretKey:     "FLWSECK_TEST",
		WebhookSecret: "flw-hook",
		Currencies:    []string{"GHS", "KES", "UGX"},
	}
}

func TestInitiate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/payments" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/xyz"}}`))
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(srv.URL), time.Second)
	out, err := a.Initiate(context.Background(), &gateway.InitiateInput{
		AttemptReference: "att-7",
		Customer:         models.Customer{Email: "kofi@example.com", Phone: "+233200000000"},
		Amount:           decimal.RequireFromString("25.5"),
		Currency:         "GHS",
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/xyz", out.RedirectURL)
	require.Equal(t, "att-7", out.ProviderReference)
	require.Equal(t, "25.5", got["amount"])
	require.Equal(t, "att-7", got["tx_ref"])
	require.Equal(t, "+233200000000", got["customer"].(map[string]any)["phonenumber"])
}

func TestInitiate_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid authorization key","data":null}`))
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(srv.URL), time.Second)
	_, err := a.Initiate(context.Background(), &gateway.InitiateInput{Amount: decimal.NewFromInt(5), Currency: "GHS"})
	var gerr *gateway.Error
	require.ErrorAs(t, err, &gerr)
	require.False(t, gerr.Retryable)
	require.Equal(t, "Invalid authorization key", gerr.Message)

	_, err = a.Initiate(context.Background(), &gateway.InitiateInput{Amount: decimal.NewFromInt(5), Currency: "NGN"})
	require.Error(t, err)
	require.False(t, gateway.IsRetryable(err))
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/transactions/verify_by_reference" || r.URL.Query().Get("tx_ref") != "att-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Transaction fetched successfully","data":{"id":1163068,"tx_ref":"att-7","flw_ref":"FLW-1","status":"successful","amount":25.5,"currency":"GHS","payment_type":"mobilemoneygh","created_at":"2026-01-02T10:00:00Z"}}`))
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(srv.URL), time.Second)
	res, err := a.Verify(context.Background(), &models.Attempt{AttemptReference: "att-7"})
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, res.Status)
	require.True(t, res.Amount.Decimal.Equal(decimal.RequireFromString("25.5")))
	require.NotNil(t, res.PaidAt)
}

func TestMapStatus(t *testing.T) {
	require.Equal(t, types.PaymentStatusCompleted, MapStatus("successful"))
	require.Equal(t, types.PaymentStatusPending, MapStatus("pending"))
	require.Equal(t, types.PaymentStatusFailed, MapStatus("failed"))
	require.Equal(t, types.PaymentStatusAbandoned, MapStatus("cancelled"))
}

func TestWebhook(t *testing.T) {
	a := NewAdapter(testConfig(""), time.Second)
	body := []byte(`{"event":"charge.completed","data":{"id":99,"tx_ref":"att-7","status":"successful","amount":25.5,"currency":"GHS"}}`)

	mac := hmac.New(sha256.New, []byte("flw-hook"))
	mac.Write(body)
	h := http.Header{}
	h.Set(SignatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	require.True(t, a.VerifyWebhookSignature(body, h))
	require.False(t, a.VerifyWebhookSignature(append(body, ' '), h))

	ev, err := a.ParseWebhook(body)
	require.NoError(t, err)
	require.Equal(t, "att-7", ev.AttemptReference)
	require.Equal(t, "charge.completed:99:successful", ev.ProviderEventID)
	require.Equal(t, "GHS", ev.Currency)
	require.Equal(t, types.PaymentStatusCompleted, ev.Status)

	noSecret := testConfig("")
	noSecret.WebhookSecret = ""
	require.False(t, NewAdapter(noSecret, time.Second).VerifyWebhookSignature(body, h))
}

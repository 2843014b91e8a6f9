// Package gateway defines the contract every payment rail implements and the
// registry the checkout, verify and webhook paths resolve rails from.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
)

type InitiateInput struct {
	IntentReference  string
	AttemptReference string
	Customer         models.Customer
	FileID           string
	Amount           decimal.Decimal
	Currency         string
	// CallbackURL is where the rail sends the customer after the hosted page closes.
	CallbackURL string
}

type InitiateOutput struct {
	ProviderReference string
	RedirectURL       string
}

// VerifyResult is the rail's current view of an attempt, already mapped onto
// the canonical status. ProviderStatus keeps the raw vocabulary for the journey.
type VerifyResult struct {
	Status         types.PaymentStatus
	ProviderStatus string
	Amount         decimal.NullDecimal
	Currency       string
	PaidAt         *time.Time
	Detail         map[string]any
}

// WebhookEvent is an authenticated notification reduced to what the reconciler needs.
type WebhookEvent struct {
	ProviderEventID  string
	AttemptReference string
	Status           types.PaymentStatus
	ProviderStatus   string
	Amount           decimal.NullDecimal
	Currency         string
	Detail           map[string]any
}

// Adapter is one payment rail. Implementations hold only read-only configuration.
type Adapter interface {
	Rail() types.Rail
	Initiate(ctx context.Context, in *InitiateInput) (*InitiateOutput, error)
	Verify(ctx context.Context, attempt *models.Attempt) (*VerifyResult, error)
	// VerifyWebhookSignature checks the raw body against the rail's signature
	// header in constant time. It must run before anything touches storage.
	VerifyWebhookSignature(body []byte, header http.Header) bool
	// ParseWebhook returns nil for notifications that carry no payment status.
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

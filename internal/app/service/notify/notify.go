// Package notify publishes purchase domain events for the out-of-process
// collaborators (receipt email, analytics).
package notify

import (
	"context"
	"time"

	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/types"
	"go.uber.org/zap"
)

const (
	EventPurchaseCompleted = "purchase.completed"
	EventPurchaseRefunded  = "purchase.refunded"
)

// Event is the wire payload. Its key is the intent reference so all events of
// one purchase land on the same partition.
type Event struct {
	Type             string              `json:"type"`
	IntentReference  string              `json:"intent_reference"`
	AttemptReference string              `json:"attempt_reference,omitempty"`
	FileID           string              `json:"file_id"`
	CustomerEmail    string              `json:"customer_email"`
	CustomerName     string              `json:"customer_name,omitempty"`
	Amount           string              `json:"amount"`
	Currency         string              `json:"currency"`
	Rail             types.Rail          `json:"rail"`
	Status           types.PaymentStatus `json:"status"`
	DownloadURL      string              `json:"download_url,omitempty"`
	TraceID          string              `json:"trace_id,omitempty"`
	OccurredAt       time.Time           `json:"occurred_at"`
}

// NewEvent snapshots intent for publication.
func NewEvent(ctx context.Context, typ string, intent *models.PurchaseIntent) *Event {
	ev := &Event{
		Type:            typ,
		IntentReference: intent.IntentReference,
		FileID:          intent.FileID,
		CustomerEmail:   intent.Customer.Email,
		CustomerName:    intent.Customer.Name,
		Amount:          intent.Amount.String(),
		Currency:        intent.Currency,
		Rail:            intent.Rail,
		Status:          intent.Status,
		TraceID:         logctx.TraceID(ctx),
		OccurredAt:      time.Now().UTC(),
	}
	if intent.CompletedAttemptReference != nil {
		ev.AttemptReference = *intent.CompletedAttemptReference
	}
	if intent.CompletedAmount.Valid {
		ev.Amount = intent.CompletedAmount.Decimal.String()
	}
	return ev
}

// Publisher delivers events at least once. Consumers dedupe on
// (type, intent_reference).
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// LogPublisher writes events to the log. It is the default when no broker is configured.
type LogPublisher struct {
	log *zap.SugaredLogger
}

func NewLogPublisher(log *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, ev *Event) error {
	logctx.FromCtx(ctx, p.log).Infow("purchase_event",
		"type", ev.Type, "intent_reference", ev.IntentReference, "file_id", ev.FileID,
		"amount", ev.Amount, "currency", ev.Currency, "rail", ev.Rail)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

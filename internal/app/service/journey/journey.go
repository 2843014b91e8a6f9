package journey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Journey is the append-only record of every purchase intent, its attempts
// and their events. All mutations of one intent are serialized by the backend.
type Journey struct {
	backend Backend
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(backend Backend, log *zap.SugaredLogger) *Journey {
	return &Journey{backend: backend, log: log, now: time.Now}
}

// Backend exposes the grant and delivery stores to sibling services.
func (j *Journey) Backend() Backend { return j.backend }

// Submission is one checkout request as seen by the journey.
type Submission struct {
	IntentReference  string
	AttemptReference string
	Customer         models.Customer
	FileID           string
	Amount           decimal.Decimal
	Currency         string
	Rail             types.Rail
	Client           models.ClientSnapshot
}

// Event is a fact to append. An empty AttemptReference targets the intent's current attempt.
type Event struct {
	AttemptReference string
	Type             types.EventType
	Source           types.EventSource
	Status           types.PaymentStatus
	ProviderEventID  string
	Detail           map[string]any
}

// Record is a purchase intent with its full history.
type Record struct {
	Intent   *models.PurchaseIntent `json:"intent"`
	Attempts []*AttemptRecord       `json:"attempts"`
}

type AttemptRecord struct {
	*models.Attempt
	Events []*models.AttemptEvent `json:"events"`
}

// CreateIntent records a new purchase intent and its first attempt. When the
// intent reference is already taken by identical data the submission is
// treated as a retry and routed to AppendAttempt; different data is a conflict.
func (j *Journey) CreateIntent(ctx context.Context, sub *Submission) (*models.PurchaseIntent, bool, error) {
	now := j.now()
	intent := &models.PurchaseIntent{
		ID:                      reference.NewID(),
		IntentReference:         sub.IntentReference,
		Customer:                sub.Customer,
		FileID:                  sub.FileID,
		Amount:                  sub.Amount,
		Currency:                strings.ToUpper(sub.Currency),
		Rail:                    sub.Rail,
		Status:                  types.PaymentStatusPending,
		CurrentAttemptReference: sub.AttemptReference,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	intent.AddClientIP(sub.Client.IP)
	attempt := newAttempt(sub, 1, now)
	first := j.newEvent(ctx, intent.IntentReference, Event{
		AttemptReference: attempt.AttemptReference,
		Type:             types.EventTypeFirstAttempt,
		Source:           types.EventSourceCheckout,
		Status:           types.PaymentStatusPending,
		Detail:           map[string]any{"rail": sub.Rail, "amount": sub.Amount.String(), "currency": intent.Currency},
	}, now)

	created, err := j.backend.InsertIntent(ctx, intent, attempt, []*models.AttemptEvent{first})
	if err != nil {
		return nil, false, err
	}
	if created {
		logctx.FromCtx(ctx, j.log).Infow("journey_intent_created",
			"intent_reference", intent.IntentReference, "attempt_reference", attempt.AttemptReference, "rail", intent.Rail)
		return intent, true, nil
	}
	existing, err := j.AppendAttempt(ctx, sub)
	return existing, false, err
}

// AppendAttempt adds a new gateway attempt to an existing intent. It is
// idempotent per attempt reference. A terminal intent is returned together
// with ErrIntentTerminal and is left untouched.
func (j *Journey) AppendAttempt(ctx context.Context, sub *Submission) (*models.PurchaseIntent, error) {
	var out *models.PurchaseIntent
	err := j.backend.Update(ctx, sub.IntentReference, func(tx Tx) error {
		intent := tx.Intent()
		out = intent
		if err := matchSubmission(intent, sub); err != nil {
			return err
		}
		attempts, err := tx.Attempts()
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if a.AttemptReference == sub.AttemptReference {
				return nil
			}
		}
		if intent.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrIntentTerminal, intent.Status)
		}

		now := j.now()
		attempt := newAttempt(sub, len(attempts)+1, now)
		if err := tx.InsertAttempt(attempt); err != nil {
			return err
		}
		intent.RetryCount++
		intent.CurrentAttemptReference = attempt.AttemptReference
		intent.Rail = sub.Rail
		if sub.Customer.Name != "" {
			intent.Customer.Name = sub.Customer.Name
		}
		if sub.Customer.Phone != "" {
			intent.Customer.Phone = sub.Customer.Phone
		}
		intent.AddClientIP(sub.Client.IP)
		intent.UpdatedAt = now
		if err := tx.SaveIntent(intent); err != nil {
			return err
		}
		return tx.InsertEvents(j.newEvent(ctx, intent.IntentReference, Event{
			AttemptReference: attempt.AttemptReference,
			Type:             types.EventTypeRetryAttempt,
			Source:           types.EventSourceCheckout,
			Status:           intent.Status,
			Detail:           map[string]any{"rail": sub.Rail, "retry_count": intent.RetryCount},
		}, now))
	})
	if err != nil && !errors.Is(err, ErrIntentTerminal) {
		return nil, err
	}
	if err == nil {
		logctx.FromCtx(ctx, j.log).Infow("journey_attempt_appended",
			"intent_reference", sub.IntentReference, "attempt_reference", sub.AttemptReference, "retry_count", out.RetryCount)
	}
	return out, err
}

// AppendEvent appends ev to the intent. NotFound when the intent does not exist.
func (j *Journey) AppendEvent(ctx context.Context, intentRef string, ev Event) error {
	return j.WithIntent(ctx, intentRef, func(s *Session) error {
		return s.AppendEvent(ev)
	})
}

// CommitTerminalStatus moves the intent to a terminal status. It reports
// false when the intent already had that status.
func (j *Journey) CommitTerminalStatus(ctx context.Context, intentRef string, status types.PaymentStatus, attemptRef string) (bool, error) {
	var committed bool
	err := j.WithIntent(ctx, intentRef, func(s *Session) error {
		var err error
		committed, err = s.CommitTerminalStatus(status, attemptRef)
		return err
	})
	return committed, err
}

// WithIntent runs fn while holding the intent's lock. Nothing in fn may call a gateway.
func (j *Journey) WithIntent(ctx context.Context, intentRef string, fn func(s *Session) error) error {
	return j.backend.Update(ctx, intentRef, func(tx Tx) error {
		return fn(&Session{ctx: ctx, j: j, tx: tx})
	})
}

func (j *Journey) Get(ctx context.Context, intentRef string) (*models.PurchaseIntent, error) {
	return j.backend.GetIntent(ctx, intentRef)
}

// GetByIntentRef returns the intent with all attempts and events in order.
func (j *Journey) GetByIntentRef(ctx context.Context, intentRef string) (*Record, error) {
	intent, err := j.backend.GetIntent(ctx, intentRef)
	if err != nil {
		return nil, err
	}
	attempts, err := j.backend.ListAttempts(ctx, intentRef)
	if err != nil {
		return nil, err
	}
	events, err := j.backend.ListEvents(ctx, intentRef)
	if err != nil {
		return nil, err
	}
	rec := &Record{Intent: intent, Attempts: make([]*AttemptRecord, 0, len(attempts))}
	byRef := make(map[string]*AttemptRecord, len(attempts))
	for _, a := range attempts {
		ar := &AttemptRecord{Attempt: a, Events: []*models.AttemptEvent{}}
		byRef[a.AttemptReference] = ar
		rec.Attempts = append(rec.Attempts, ar)
	}
	for _, ev := range events {
		if ar, ok := byRef[ev.AttemptReference]; ok {
			ar.Events = append(ar.Events, ev)
		}
	}
	return rec, nil
}

// GetByAttemptRef resolves an attempt and its intent through the attempt index.
func (j *Journey) GetByAttemptRef(ctx context.Context, attemptRef string) (*models.Attempt, *models.PurchaseIntent, error) {
	a, err := j.backend.GetAttempt(ctx, attemptRef)
	if err != nil {
		return nil, nil, err
	}
	intent, err := j.backend.GetIntent(ctx, a.IntentReference)
	if err != nil {
		return nil, nil, err
	}
	return a, intent, nil
}

func (j *Journey) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	return j.backend.ScanIntents(ctx, req)
}

func (j *Journey) newEvent(ctx context.Context, intentRef string, ev Event, now time.Time) *models.AttemptEvent {
	var detail datatypes.JSONMap
	if len(ev.Detail) > 0 {
		detail = datatypes.JSONMap(ev.Detail)
	}
	return &models.AttemptEvent{
		ID:               reference.NewID(),
		IntentReference:  intentRef,
		AttemptReference: ev.AttemptReference,
		Type:             ev.Type,
		Source:           ev.Source,
		Status:           ev.Status,
		ProviderEventID:  ev.ProviderEventID,
		TraceID:          logctx.TraceID(ctx),
		Detail:           detail,
		CreatedAt:        now,
	}
}

func newAttempt(sub *Submission, seq int, now time.Time) *models.Attempt {
	return &models.Attempt{
		ID:               reference.NewID(),
		AttemptReference: sub.AttemptReference,
		IntentReference:  sub.IntentReference,
		Seq:              seq,
		Rail:             sub.Rail,
		Amount:           sub.Amount,
		Currency:         strings.ToUpper(sub.Currency),
		Client:           datatypes.NewJSONType(sub.Client),
		StartedAt:        now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func matchSubmission(intent *models.PurchaseIntent, sub *Submission) error {
	switch {
	case !intent.Customer.SameIdentity(sub.Customer):
		return apperr.Conflict("intent %s belongs to a different customer", intent.IntentReference)
	case !intent.Amount.Equal(sub.Amount):
		return apperr.Conflict("intent %s was created for amount %s", intent.IntentReference, intent.Amount)
	case !strings.EqualFold(intent.Currency, sub.Currency):
		return apperr.Conflict("intent %s was created in %s", intent.IntentReference, intent.Currency)
	case intent.FileID != sub.FileID:
		return apperr.Conflict("intent %s was created for another file", intent.IntentReference)
	}
	return nil
}

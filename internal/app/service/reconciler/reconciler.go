// Package reconciler owns the canonical payment status. Verification results
// and webhooks only propose a status; Apply decides under the intent lock.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/fulfillment"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/notify"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/metrics"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// repairAfter is how long a completed intent may sit without a grant before
// a later proposal re-runs fulfillment. It keeps racing callers from issuing
// while the committing caller is still fulfilling.
const repairAfter = time.Minute

// Anomaly codes recorded on status_anomaly events.
const (
	AnomalyConflictingStatus = "conflicting_terminal_status"
	AnomalyGatewayRefund     = "refund_reported_by_gateway"
	AnomalyAmountShort       = "amount_below_expected"
	AnomalyCurrencyMismatch  = "currency_mismatch"
)

// Evidence is what the proposing path observed.
type Evidence struct {
	Source          types.EventSource
	ProviderEventID string
	ProviderStatus  string
	Amount          decimal.NullDecimal
	// Currency is the currency Amount is denominated in, empty when the
	// provider did not report one.
	Currency string
	Detail   map[string]any
}

type Outcome struct {
	Intent    *models.PurchaseIntent
	Committed bool
	Anomaly   string
	Grant     *models.DownloadGrant
}

// Fulfiller issues the download grant; it must be idempotent per intent.
type Fulfiller interface {
	Issue(ctx context.Context, intent *models.PurchaseIntent) (*models.DownloadGrant, error)
	DownloadURL(grant *models.DownloadGrant) string
}

type Reconciler struct {
	journey   *journey.Journey
	fulfiller Fulfiller
	publisher notify.Publisher
	log       *zap.SugaredLogger
	now       func() time.Time
}

func New(j *journey.Journey, f Fulfiller, p notify.Publisher, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{journey: j, fulfiller: f, publisher: p, log: log, now: time.Now}
}

// Apply records proposed for attemptRef and commits it when it is the first
// terminal status the intent sees. The first committed status always wins;
// later disagreeing proposals are logged as anomalies.
func (r *Reconciler) Apply(ctx context.Context, intentRef, attemptRef string, proposed types.PaymentStatus, ev Evidence) (*Outcome, error) {
	if !proposed.Valid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", proposed))
	}
	log := logctx.FromCtx(logctx.WithIntentRef(ctx, intentRef), r.log)

	out := &Outcome{}
	err := r.journey.WithIntent(ctx, intentRef, func(s *journey.Session) error {
		attempt, err := s.Attempt(attemptRef)
		if err != nil {
			return err
		}
		intent := s.Intent()
		out.Intent = intent
		current := intent.Status

		event := journey.Event{
			AttemptReference: attempt.AttemptReference,
			Type:             types.EventTypeStatusUpdate,
			Source:           ev.Source,
			ProviderEventID:  ev.ProviderEventID,
			Detail:           evidenceDetail(ev, proposed),
		}

		switch {
		case proposed == types.PaymentStatusRefunded:
			out.Anomaly = AnomalyGatewayRefund
		case current.Terminal():
			if proposed.Terminal() && proposed != current {
				out.Anomaly = AnomalyConflictingStatus
			}
		case proposed == types.PaymentStatusPending:
		case proposed == types.PaymentStatusCompleted && ev.Currency != "" && !strings.EqualFold(ev.Currency, attempt.Currency):
			out.Anomaly = AnomalyCurrencyMismatch
			event.Detail["expected_currency"] = attempt.Currency
		case proposed == types.PaymentStatusCompleted && ev.Amount.Valid && ev.Amount.Decimal.LessThan(attempt.Amount):
			out.Anomaly = AnomalyAmountShort
			event.Detail["expected_amount"] = attempt.Amount.String()
		case proposed.Closed() && attempt.AttemptReference != intent.CurrentAttemptReference:
			// a superseded attempt failing does not close the purchase
			event.Detail["superseded"] = true
		default:
			committed, err := s.CommitTerminalStatus(proposed, attempt.AttemptReference)
			if err != nil {
				return err
			}
			out.Committed = committed
		}

		if out.Anomaly != "" {
			event.Type = types.EventTypeStatusAnomaly
			event.Detail["anomaly"] = out.Anomaly
			event.Detail["committed_status"] = current
		}
		event.Status = intent.Status
		return s.AppendEvent(event)
	})
	if err != nil {
		metrics.IncReconcile(string(ev.Source), "error")
		return nil, err
	}

	switch {
	case out.Committed:
		metrics.IncReconcile(string(ev.Source), "committed")
		log.Infow("reconcile_committed", "attempt_reference", attemptRef, "status", out.Intent.Status, "source", ev.Source)
	case out.Anomaly != "":
		metrics.IncReconcile(string(ev.Source), "anomaly")
		log.Warnw("reconcile_anomaly", "attempt_reference", attemptRef, "anomaly", out.Anomaly,
			"proposed", proposed, "status", out.Intent.Status, "source", ev.Source)
	default:
		metrics.IncReconcile(string(ev.Source), "recorded")
	}

	if r.shouldFulfill(out) {
		out.Grant = r.fulfill(ctx, out.Intent)
	}
	return out, nil
}

// shouldFulfill is true for the caller that committed completion, and for a
// later caller when the committing one evidently never finished fulfilling.
func (r *Reconciler) shouldFulfill(out *Outcome) bool {
	if !out.Intent.NeedsFulfillment() {
		return false
	}
	if out.Committed {
		return true
	}
	return out.Intent.CompletedAt != nil && r.now().Sub(*out.Intent.CompletedAt) > repairAfter
}

// fulfill issues the grant outside the intent lock and then records it.
// Failures are journaled and left for the repair path; the committed status
// stands either way.
func (r *Reconciler) fulfill(ctx context.Context, intent *models.PurchaseIntent) *models.DownloadGrant {
	log := logctx.FromCtx(logctx.WithIntentRef(ctx, intent.IntentReference), r.log)
	attemptRef := ""
	if intent.CompletedAttemptReference != nil {
		attemptRef = *intent.CompletedAttemptReference
	}

	grant, err := r.fulfiller.Issue(ctx, intent)
	if err != nil {
		log.Errorw("fulfillment_failed", "error", err)
		appendErr := r.journey.AppendEvent(ctx, intent.IntentReference, journey.Event{
			AttemptReference: attemptRef,
			Type:             types.EventTypeFulfillmentFailed,
			Source:           types.EventSourceSystem,
			Status:           intent.Status,
			Detail:           map[string]any{"error": err.Error()},
		})
		if appendErr != nil {
			log.Errorw("journey_append_failed", "error", appendErr)
		}
		return nil
	}

	var (
		marked bool
		latest *models.PurchaseIntent
	)
	err = r.journey.WithIntent(ctx, intent.IntentReference, func(s *journey.Session) error {
		var err error
		marked, err = s.MarkFulfilled(grant)
		latest = s.Intent()
		return err
	})
	if err != nil {
		log.Errorw("fulfillment_mark_failed", "grant_id", grant.ID, "error", err)
		return grant
	}
	if marked {
		ev := notify.NewEvent(ctx, notify.EventPurchaseCompleted, latest)
		ev.DownloadURL = r.fulfiller.DownloadURL(grant)
		r.publish(ctx, ev)
	}
	return grant
}

// Repair re-runs fulfillment for a completed intent whose grant was never
// recorded, once the committing caller has had repairAfter to finish.
func (r *Reconciler) Repair(ctx context.Context, intentRef string) (*models.DownloadGrant, error) {
	intent, err := r.journey.Get(ctx, intentRef)
	if err != nil {
		return nil, err
	}
	if !r.shouldFulfill(&Outcome{Intent: intent}) {
		return nil, nil
	}
	logctx.FromCtx(ctx, r.log).Infow("fulfillment_repair", "intent_reference", intentRef, "completed_at", intent.CompletedAt)
	return r.fulfill(ctx, intent), nil
}

func (r *Reconciler) publish(ctx context.Context, ev *notify.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		logctx.FromCtx(ctx, r.log).Errorw("purchase_event_publish_failed",
			"type", ev.Type, "intent_reference", ev.IntentReference, "error", err)
	}
}

// Refund moves a completed intent to refunded. It is the only way out of
// completed and is reached solely through the admin API.
func (r *Reconciler) Refund(ctx context.Context, intentRef, operator, reason string) (*models.PurchaseIntent, bool, error) {
	var (
		intent    *models.PurchaseIntent
		committed bool
	)
	err := r.journey.WithIntent(ctx, intentRef, func(s *journey.Session) error {
		intent = s.Intent()
		if intent.Status != types.PaymentStatusCompleted && intent.Status != types.PaymentStatusRefunded {
			return apperr.Conflict("intent %s is %s and cannot be refunded", intentRef, intent.Status)
		}
		attemptRef := intent.CurrentAttemptReference
		if intent.CompletedAttemptReference != nil {
			attemptRef = *intent.CompletedAttemptReference
		}
		var err error
		committed, err = s.CommitTerminalStatus(types.PaymentStatusRefunded, attemptRef)
		if err != nil || !committed {
			return err
		}
		return s.AppendEvent(journey.Event{
			AttemptReference: attemptRef,
			Type:             types.EventTypeRefunded,
			Source:           types.EventSourceAdmin,
			Status:           types.PaymentStatusRefunded,
			Detail:           map[string]any{"operator": operator, "reason": reason},
		})
	})
	if err != nil {
		if errors.Is(err, journey.ErrInvalidTransition) {
			return nil, false, apperr.Conflict("intent %s cannot be refunded: %v", intentRef, err)
		}
		return nil, false, err
	}
	if committed {
		logctx.FromCtx(ctx, r.log).Infow("reconcile_refunded", "intent_reference", intentRef, "operator", operator)
		metrics.IncReconcile(string(types.EventSourceAdmin), "refunded")
		r.publish(ctx, notify.NewEvent(ctx, notify.EventPurchaseRefunded, intent))
	}
	return intent, committed, nil
}

func evidenceDetail(ev Evidence, proposed types.PaymentStatus) map[string]any {
	d := make(map[string]any, len(ev.Detail)+3)
	for k, v := range ev.Detail {
		d[k] = v
	}
	d["proposed_status"] = proposed
	if ev.ProviderStatus != "" {
		d["provider_status"] = ev.ProviderStatus
	}
	if ev.Amount.Valid {
		d["amount"] = ev.Amount.Decimal.String()
	}
	if ev.Currency != "" {
		d["currency"] = ev.Currency
	}
	return d
}

var Module = fx.Options(
	fx.Provide(func(s *fulfillment.Service) Fulfiller { return s }),
	fx.Provide(New),
)

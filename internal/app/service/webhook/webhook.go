// Package webhook ingests rail notifications: signature first, then the
// delivery log, then the reconciler.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/reconciler"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/metrics"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Result is what happened to one delivery.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
	ResultFailed    Result = "failed"
)

type Outcome struct {
	Result    Result                  `json:"result"`
	Delivery  *models.WebhookDelivery `json:"-"`
	Reconcile *reconciler.Outcome     `json:"-"`
}

type Ingestor struct {
	gateways   *gateway.Registry
	journey    *journey.Journey
	deliveries journey.DeliveryStore
	reconciler *reconciler.Reconciler
	log        *zap.SugaredLogger
}

func New(g *gateway.Registry, j *journey.Journey, r *reconciler.Reconciler, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{gateways: g, journey: j, deliveries: j.Backend(), reconciler: r, log: log}
}

// Handle processes one raw delivery for rail. Only an unknown rail or a bad
// signature is returned as an error; every authenticated delivery yields an
// Outcome so the provider is acknowledged and does not redeliver forever.
func (i *Ingestor) Handle(ctx context.Context, rail types.Rail, body []byte, header http.Header) (*Outcome, error) {
	adapter, err := i.gateways.Get(rail)
	if err != nil {
		return nil, apperr.NotFound("rail", string(rail))
	}
	log := logctx.FromCtx(ctx, i.log).With("rail", rail)

	if !adapter.VerifyWebhookSignature(body, header) {
		metrics.IncWebhook(string(rail), "signature_failed")
		log.Warnw("webhook_signature_rejected", "body_bytes", len(body))
		return nil, &apperr.SignatureError{Rail: string(rail), Reason: "signature mismatch"}
	}

	ev, err := adapter.ParseWebhook(body)
	if err != nil || ev == nil {
		metrics.IncWebhook(string(rail), string(ResultIgnored))
		log.Infow("webhook_ignored", "error", err)
		return &Outcome{Result: ResultIgnored}, nil
	}

	eventID := ev.ProviderEventID
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "sha256:" + hex.EncodeToString(sum[:])
	}
	log = log.With("provider_event_id", eventID, "attempt_reference", ev.AttemptReference)
	log.Infow("webhook_received", "status", ev.Status, "provider_status", ev.ProviderStatus)

	delivery, claimed, err := i.deliveries.ClaimDelivery(ctx, &models.WebhookDelivery{
		ID:               reference.NewID(),
		Rail:             rail,
		ProviderEventID:  eventID,
		AttemptReference: ev.AttemptReference,
		TraceID:          logctx.TraceID(ctx),
		Data:             datatypes.JSON(body),
		Status:           models.WebhookDeliveryStatusReceived,
	})
	if err != nil {
		metrics.IncWebhook(string(rail), string(ResultFailed))
		log.Errorw("webhook_claim_failed", "error", err)
		return &Outcome{Result: ResultFailed}, nil
	}
	if !claimed {
		metrics.IncWebhook(string(rail), string(ResultDuplicate))
		log.Infow("webhook_duplicate", "delivery_status", delivery.Status, "attempts", delivery.Attempts)
		return &Outcome{Result: ResultDuplicate, Delivery: delivery}, nil
	}

	out := &Outcome{Result: ResultProcessed, Delivery: delivery}
	out.Reconcile, err = i.reconcile(ctx, rail, eventID, ev)
	if err != nil {
		out.Result = ResultFailed
		log.Errorw("webhook_handle_failed", "error", err)
	}
	i.finish(ctx, delivery, out, err)
	metrics.IncWebhook(string(rail), string(out.Result))
	return out, nil
}

func (i *Ingestor) reconcile(ctx context.Context, rail types.Rail, eventID string, ev *gateway.WebhookEvent) (*reconciler.Outcome, error) {
	attempt, intent, err := i.journey.GetByAttemptRef(ctx, ev.AttemptReference)
	if err != nil {
		return nil, err
	}
	if attempt.Rail != rail {
		return nil, fmt.Errorf("attempt %s belongs to rail %s", attempt.AttemptReference, attempt.Rail)
	}
	ctx = logctx.WithIntentRef(ctx, intent.IntentReference)
	return i.reconciler.Apply(ctx, intent.IntentReference, attempt.AttemptReference, ev.Status, reconciler.Evidence{
		Source:          types.EventSourceWebhook,
		ProviderEventID: eventID,
		ProviderStatus:  ev.ProviderStatus,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		Detail:          ev.Detail,
	})
}

// finish records the delivery result. It runs detached from the request so
// a provider hanging up does not leave the delivery in received.
func (i *Ingestor) finish(ctx context.Context, d *models.WebhookDelivery, out *Outcome, handleErr error) {
	res := map[string]any{"result": out.Result}
	if out.Reconcile != nil {
		res["status"] = out.Reconcile.Intent.Status
		res["committed"] = out.Reconcile.Committed
		if out.Reconcile.Anomaly != "" {
			res["anomaly"] = out.Reconcile.Anomaly
		}
	}
	d.Status = models.WebhookDeliveryStatusHandled
	if handleErr != nil {
		d.Status = models.WebhookDeliveryStatusHandleFailed
		res["error"] = handleErr.Error()
		if errors.Is(handleErr, apperr.ErrNotFound) {
			res["error_type"] = "unknown_attempt"
		}
	}
	raw, _ := json.Marshal(res)
	result := datatypes.JSON(raw)
	d.Result = &result

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := i.deliveries.FinishDelivery(ctx, d); err != nil {
		logctx.FromCtx(ctx, i.log).Errorw("webhook_finish_failed", "provider_event_id", d.ProviderEventID, "error", err)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)

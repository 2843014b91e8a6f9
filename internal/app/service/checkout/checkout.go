// Package checkout drives a purchase from submission to a settled status:
// it records attempts, calls the rail outside the intent lock and hands every
// verification result to the reconciler. Failed gateway calls are journaled
// and returned; retrying them is the client's decision.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/fulfillment"
	"github.com/fatflowers/settle/internal/app/service/gateway"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/reconciler"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Request struct {
	// IntentReference is empty on the first submission of a checkout session.
	IntentReference string
	Email           string
	CustomerName    string
	CustomerPhone   string
	FileID          string
	Amount          decimal.Decimal
	Currency        string
	Rail            types.Rail
	Client          models.ClientSnapshot
}

type Result struct {
	IntentReference  string              `json:"intent_reference"`
	AttemptReference string              `json:"attempt_reference"`
	RedirectURL      string              `json:"redirect_url"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	PaymentStatus    types.PaymentStatus `json:"payment_status"`
}

// Status is the client-facing view of an intent after a verification.
type Status struct {
	IntentReference  string              `json:"intent_reference"`
	AttemptReference string              `json:"attempt_reference"`
	PaymentStatus    types.PaymentStatus `json:"payment_status"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	DownloadToken    string              `json:"download_token,omitempty"`
	DownloadURL      string              `json:"download_url,omitempty"`
}

type Service struct {
	cfg        *config.Config
	journey    *journey.Journey
	gateways   *gateway.Registry
	reconciler *reconciler.Reconciler
	grants     *fulfillment.Service
	log        *zap.SugaredLogger

	verifies singleflight.Group
}

func New(cfg *config.Config, j *journey.Journey, g *gateway.Registry, r *reconciler.Reconciler, f *fulfillment.Service, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, journey: j, gateways: g, reconciler: r, grants: f, log: log}
}

// Checkout records a new attempt for the request's intent and initiates it
// with the rail. Resubmitting an intent that already settled never charges
// again: a completed intent is reported as such and a closed one needs a new
// checkout session.
func (s *Service) Checkout(ctx context.Context, req *Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Get(req.Rail)
	if err != nil {
		return nil, apperr.Validation("rail", fmt.Sprintf("%s is not enabled", req.Rail))
	}

	intentRef := lo.Ternary(req.IntentReference == "", reference.NewIntentReference(), req.IntentReference)
	attemptRef := reference.NewAttemptReference()
	ctx = logctx.WithIntentRef(ctx, intentRef)
	log := logctx.FromCtx(ctx, s.log)

	intent, created, err := s.journey.CreateIntent(ctx, &journey.Submission{
		IntentReference:  intentRef,
		AttemptReference: attemptRef,
		Customer: models.Customer{
			Name:  strings.TrimSpace(req.CustomerName),
			Email: strings.TrimSpace(req.Email),
			Phone: strings.TrimSpace(req.CustomerPhone),
		},
		FileID:   req.FileID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Rail:     req.Rail,
		Client:   req.Client,
	})
	if errors.Is(err, journey.ErrIntentTerminal) {
		return s.settledCheckout(intent)
	}
	if err != nil {
		return nil, err
	}
	log.Infow("checkout_attempt_recorded", "attempt_reference", attemptRef, "rail", req.Rail,
		"new_intent", created, "retry_count", intent.RetryCount)

	out, err := adapter.Initiate(ctx, &gateway.InitiateInput{
		IntentReference:  intentRef,
		AttemptReference: attemptRef,
		Customer:         intent.Customer,
		FileID:           intent.FileID,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		CallbackURL:      s.callbackURL(intentRef, attemptRef),
	})
	if err != nil {
		retryable := gateway.IsRetryable(err)
		log.Warnw("gateway_initiate_failed", "attempt_reference", attemptRef, "rail", req.Rail, "retryable", retryable, "error", err)
		if appendErr := s.journey.AppendEvent(ctx, intentRef, journey.Event{
			AttemptReference: attemptRef,
			Type:             types.EventTypeFailedInit,
			Source:           types.EventSourceCheckout,
			Status:           intent.Status,
			Detail:           map[string]any{"retryable": retryable, "error": err.Error()},
		}); appendErr != nil {
			log.Errorw("journey_append_failed", "attempt_reference", attemptRef, "error", appendErr)
		}
		return nil, err
	}

	err = s.journey.WithIntent(ctx, intentRef, func(sess *journey.Session) error {
		return sess.RecordInitiation(attemptRef, out.ProviderReference, out.RedirectURL)
	})
	if err != nil {
		return nil, err
	}
	log.Infow("checkout_initiated", "attempt_reference", attemptRef, "provider_reference", out.ProviderReference)
	return &Result{
		IntentReference:  intentRef,
		AttemptReference: attemptRef,
		RedirectURL:      out.RedirectURL,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		PaymentStatus:    types.PaymentStatusPending,
	}, nil
}

func (s *Service) settledCheckout(intent *models.PurchaseIntent) (*Result, error) {
	if intent.Status.Closed() {
		return nil, apperr.Conflict("intent %s is %s; start a new checkout", intent.IntentReference, intent.Status)
	}
	return &Result{
		IntentReference:  intent.IntentReference,
		AttemptReference: lo.FromPtrOr(intent.CompletedAttemptReference, intent.CurrentAttemptReference),
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		PaymentStatus:    intent.Status,
	}, nil
}

func (s *Service) validate(req *Request) error {
	verr := &apperr.ValidationError{}
	if req.IntentReference != "" && !reference.ValidIntentReference(req.IntentReference) {
		verr.Add("intent_reference", "malformed intent reference")
	}
	if addr, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil || addr.Address != strings.TrimSpace(req.Email) {
		verr.Add("email", "a valid email address is required")
	}
	if strings.TrimSpace(req.FileID) == "" {
		verr.Add("file_id", "required")
	}
	if !req.Amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	}
	if len(req.Currency) != 3 {
		verr.Add("currency", "must be an ISO 4217 code")
	}
	if !req.Rail.Valid() {
		verr.Add("rail", fmt.Sprintf("unknown rail %q", req.Rail))
	}
	if len(s.cfg.Files) > 0 && req.FileID != "" {
		item := s.cfg.GetFileByID(req.FileID)
		switch {
		case item == nil:
			verr.Add("file_id", "unknown file")
		case !strings.EqualFold(item.Currency, req.Currency):
			verr.Add("currency", fmt.Sprintf("file is priced in %s", strings.ToUpper(item.Currency)))
		default:
			// validate() already rejected unparsable catalog prices
			price, _ := item.PriceDecimal()
			if !price.Equal(req.Amount) {
				verr.Add("amount", fmt.Sprintf("file costs %s", price))
			}
		}
	}
	return verr.OrNil()
}

func (s *Service) callbackURL(intentRef, attemptRef string) string {
	base := s.cfg.Gateway.CallbackBaseURL
	if base == "" {
		return ""
	}
	q := url.Values{}
	q.Set("intent_reference", intentRef)
	q.Set("attempt_reference", attemptRef)
	sep := lo.Ternary(strings.Contains(base, "?"), "&", "?")
	return base + sep + q.Encode()
}

type verified struct {
	outcome *reconciler.Outcome
	result  *gateway.VerifyResult
}

// Verify asks the rail for the attempt's current status and reconciles it.
// An empty attemptRef means the intent's current attempt. Settled intents are
// answered from the journey without calling the rail. When the rail cannot
// be reached the pending status is returned together with the gateway error.
func (s *Service) Verify(ctx context.Context, intentRef, attemptRef string) (*Status, error) {
	if !reference.ValidIntentReference(intentRef) {
		return nil, apperr.Validation("intent_reference", "malformed intent reference")
	}
	ctx = logctx.WithIntentRef(ctx, intentRef)
	intent, err := s.journey.Get(ctx, intentRef)
	if err != nil {
		return nil, err
	}
	if attemptRef == "" {
		attemptRef = intent.CurrentAttemptReference
	}
	if intent.Status.Terminal() {
		return s.status(ctx, intent, attemptRef, nil, nil), nil
	}

	attempt, owner, err := s.journey.GetByAttemptRef(ctx, attemptRef)
	if err != nil {
		return nil, err
	}
	if owner.IntentReference != intentRef {
		return nil, apperr.NotFound("attempt", attemptRef)
	}
	if !attempt.Initiated() {
		// the rail never accepted this attempt; there is nothing to ask it
		return s.status(ctx, intent, attemptRef, nil, nil), nil
	}
	adapter, err := s.gateways.Get(attempt.Rail)
	if err != nil {
		return nil, apperr.Validation("rail", fmt.Sprintf("%s is not enabled", attempt.Rail))
	}

	// concurrent polls of one attempt share a single rail call, which must
	// not be cut short when the first caller goes away
	v, err, shared := s.verifies.Do(attemptRef, func() (any, error) {
		return s.verify(context.WithoutCancel(ctx), adapter, attempt)
	})
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			return s.status(ctx, intent, attemptRef, nil, nil), err
		}
		return nil, err
	}
	res := v.(*verified)
	if shared {
		logctx.FromCtx(ctx, s.log).Debugw("verify_shared", "attempt_reference", attemptRef)
	}
	return s.status(ctx, res.outcome.Intent, attemptRef, res.result, res.outcome.Grant), nil
}

func (s *Service) verify(ctx context.Context, adapter gateway.Adapter, attempt *models.Attempt) (*verified, error) {
	log := logctx.FromCtx(ctx, s.log)
	res, err := adapter.Verify(ctx, attempt)
	if err != nil {
		retryable := gateway.IsRetryable(err)
		log.Warnw("gateway_verify_failed", "attempt_reference", attempt.AttemptReference, "retryable", retryable, "error", err)
		if appendErr := s.journey.AppendEvent(ctx, attempt.IntentReference, journey.Event{
			AttemptReference: attempt.AttemptReference,
			Type:             types.EventTypeVerificationFailed,
			Source:           types.EventSourceVerify,
			Detail:           map[string]any{"retryable": retryable, "error": err.Error()},
		}); appendErr != nil {
			log.Errorw("journey_append_failed", "attempt_reference", attempt.AttemptReference, "error", appendErr)
		}
		return nil, err
	}
	out, err := s.reconciler.Apply(ctx, attempt.IntentReference, attempt.AttemptReference, res.Status, reconciler.Evidence{
		Source:         types.EventSourceVerify,
		ProviderStatus: res.ProviderStatus,
		Amount:         res.Amount,
		Currency:       res.Currency,
		Detail:         lo.Assign(map[string]any{}, res.Detail),
	})
	if err != nil {
		return nil, err
	}
	return &verified{outcome: out, result: res}, nil
}

func (s *Service) status(ctx context.Context, intent *models.PurchaseIntent, attemptRef string, res *gateway.VerifyResult, grant *models.DownloadGrant) *Status {
	st := &Status{
		IntentReference:  intent.IntentReference,
		AttemptReference: attemptRef,
		PaymentStatus:    intent.Status,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
	}
	if intent.CompletedAmount.Valid {
		st.Amount = intent.CompletedAmount.Decimal
	}
	switch {
	case res != nil && res.PaidAt != nil:
		st.PaidAt = res.PaidAt
	case intent.CompletedAt != nil:
		st.PaidAt = intent.CompletedAt
	}
	if intent.Status != types.PaymentStatusCompleted {
		return st
	}
	if grant == nil {
		grant = s.grant(ctx, intent)
	}
	if grant != nil {
		st.DownloadToken = grant.Token
		st.DownloadURL = s.grants.DownloadURL(grant)
	}
	return st
}

func (s *Service) grant(ctx context.Context, intent *models.PurchaseIntent) *models.DownloadGrant {
	log := logctx.FromCtx(ctx, s.log)
	if intent.NeedsFulfillment() {
		g, err := s.reconciler.Repair(ctx, intent.IntentReference)
		if err != nil {
			log.Errorw("fulfillment_repair_failed", "error", err)
		}
		if g != nil {
			return g
		}
	}
	g, err := s.grants.Get(ctx, intent.IntentReference)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			log.Errorw("grant_lookup_failed", "error", err)
		}
		return nil
	}
	return g
}

var Module = fx.Options(
	fx.Provide(New),
)

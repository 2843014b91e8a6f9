package journey

import (
	"context"
	"fmt"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
)

// Session is a locked view of one intent, valid only inside WithIntent.
type Session struct {
	ctx context.Context
	j   *Journey
	tx  Tx
}

func (s *Session) Intent() *models.PurchaseIntent { return s.tx.Intent() }

// Attempt returns the intent's attempt with ref, or its current attempt when ref is empty.
func (s *Session) Attempt(ref string) (*models.Attempt, error) {
	intent := s.tx.Intent()
	if ref == "" {
		ref = intent.CurrentAttemptReference
	}
	attempts, err := s.tx.Attempts()
	if err != nil {
		return nil, err
	}
	for _, a := range attempts {
		if a.AttemptReference == ref {
			return a, nil
		}
	}
	return nil, apperr.NotFound("attempt", ref)
}

func (s *Session) AppendEvent(ev Event) error {
	a, err := s.Attempt(ev.AttemptReference)
	if err != nil {
		return err
	}
	ev.AttemptReference = a.AttemptReference
	return s.tx.InsertEvents(s.j.newEvent(s.ctx, s.tx.Intent().IntentReference, ev, s.j.now()))
}

func canTransition(from, to types.PaymentStatus) bool {
	switch from {
	case types.PaymentStatusPending:
		return to == types.PaymentStatusCompleted || to == types.PaymentStatusFailed || to == types.PaymentStatusAbandoned
	case types.PaymentStatusCompleted:
		return to == types.PaymentStatusRefunded
	}
	return false
}

// CommitTerminalStatus sets the canonical status. The completion snapshot is
// taken from attemptRef and written at most once. It reports false when the
// intent already had status.
func (s *Session) CommitTerminalStatus(status types.PaymentStatus, attemptRef string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("journey: %s is not a terminal status", status)
	}
	intent := s.tx.Intent()
	if intent.Status == status {
		return false, nil
	}
	if !canTransition(intent.Status, status) {
		return false, transitionError(intent.Status, status)
	}
	a, err := s.Attempt(attemptRef)
	if err != nil {
		return false, err
	}

	now := s.j.now()
	intent.Status = status
	intent.UpdatedAt = now
	switch status {
	case types.PaymentStatusCompleted:
		if intent.CompletedAt == nil {
			ref := a.AttemptReference
			intent.CompletedAmount = decimal.NewNullDecimal(a.Amount)
			intent.CompletedAttemptReference = &ref
			intent.CompletedAt = &now
		}
	case types.PaymentStatusRefunded:
		intent.RefundedAt = &now
	}
	if err := s.tx.SaveIntent(intent); err != nil {
		return false, err
	}
	return true, nil
}

// RecordInitiation stores the provider reference and redirect of a
// successfully initiated attempt. Both are written once.
func (s *Session) RecordInitiation(attemptRef, providerRef, redirectURL string) error {
	a, err := s.Attempt(attemptRef)
	if err != nil {
		return err
	}
	if a.ProviderReference != nil {
		if *a.ProviderReference != providerRef {
			return apperr.Conflict("attempt %s already initiated as %s", a.AttemptReference, *a.ProviderReference)
		}
		return nil
	}
	a.ProviderReference = &providerRef
	a.RedirectURL = redirectURL
	if err := s.tx.UpdateAttempt(a); err != nil {
		return err
	}
	return s.AppendEvent(Event{
		AttemptReference: a.AttemptReference,
		Type:             types.EventTypeInitiated,
		Source:           types.EventSourceCheckout,
		Status:           s.tx.Intent().Status,
		Detail:           map[string]any{"provider_reference": providerRef, "redirect_url": redirectURL},
	})
}

// MarkFulfilled records the grant on a completed intent. It reports false
// when the intent was already fulfilled.
func (s *Session) MarkFulfilled(grant *models.DownloadGrant) (bool, error) {
	intent := s.tx.Intent()
	if intent.FulfilledAt != nil {
		return false, nil
	}
	if intent.Status != types.PaymentStatusCompleted && intent.Status != types.PaymentStatusRefunded {
		return false, transitionError(intent.Status, "fulfilled")
	}
	now := s.j.now()
	intent.FulfilledAt = &now
	intent.UpdatedAt = now
	if err := s.tx.SaveIntent(intent); err != nil {
		return false, err
	}
	attemptRef := ""
	if intent.CompletedAttemptReference != nil {
		attemptRef = *intent.CompletedAttemptReference
	}
	return true, s.AppendEvent(Event{
		AttemptReference: attemptRef,
		Type:             types.EventTypeFulfilled,
		Source:           types.EventSourceSystem,
		Status:           intent.Status,
		Detail:           map[string]any{"grant_id": grant.ID, "file_id": grant.FileID, "expires_at": grant.ExpiresAt},
	})
}

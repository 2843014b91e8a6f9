package reconciler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/app/service/notify"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/internal/platform/boltdb"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFulfiller struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFulfiller) Issue(_ context.Context, intent *models.PurchaseIntent) (*models.DownloadGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.DownloadGrant{ID: "grant-" + intent.IntentReference, IntentReference: intent.IntentReference, FileID: intent.FileID, Token: "tok"}, nil
}

func (f *fakeFulfiller) DownloadURL(g *models.DownloadGrant) string { return "https://files.example/" + g.FileID }

func (f *fakeFulfiller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (p *fakePublisher) Publish(_ context.Context, ev *notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fixture struct {
	j   *journey.Journey
	r   *Reconciler
	f   *fakeFulfiller
	pub *fakePublisher
	sub *journey.Submission
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend, err := journey.NewBoltBackend(db)
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	j := journey.New(backend, log)
	f := &fakeFulfiller{}
	pub := &fakePublisher{}
	sub := &journey.Submission{
		IntentReference:  reference.NewIntentReference(),
		AttemptReference: reference.NewAttemptReference(),
		Customer:         models.Customer{Name: "Ada", Email: "ada@example.com"},
		FileID:           "ebook-1",
		Amount:           decimal.NewFromInt(1000),
		Currency:         "NGN",
		Rail:             types.RailPaystack,
	}
	_, _, err = j.CreateIntent(context.Background(), sub)
	require.NoError(t, err)
	return &fixture{j: j, r: New(j, f, pub, log), f: f, pub: pub, sub: sub}
}

func (fx *fixture) events(t *testing.T) []*models.AttemptEvent {
	t.Helper()
	rec, err := fx.j.GetByIntentRef(context.Background(), fx.sub.IntentReference)
	require.NoError(t, err)
	var out []*models.AttemptEvent
	for _, a := range rec.Attempts {
		out = append(out, a.Events...)
	}
	return out
}

func countType(events []*models.AttemptEvent, typ types.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func webhook(id string) Evidence {
	return Evidence{Source: types.EventSourceWebhook, ProviderEventID: id, ProviderStatus: "success", Amount: decimal.NewNullDecimal(decimal.NewFromInt(1000))}
}

func TestApply_DuplicateWebhooksCommitOnce(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	first, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)
	require.True(t, first.Committed)
	require.NotNil(t, first.Grant)
	snapshot := *first.Intent.CompletedAt

	for i := 0; i < 3; i++ {
		out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Empty(t, out.Anomaly)
		require.True(t, snapshot.Equal(*out.Intent.CompletedAt))
	}

	intent, err := fx.j.Get(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, intent.Status)
	require.NotNil(t, intent.FulfilledAt)
	require.Equal(t, 1, fx.f.Calls())
	require.Len(t, fx.pub.events, 1)
	require.Equal(t, "https://files.example/ebook-1", fx.pub.events[0].DownloadURL)

	events := fx.events(t)
	require.Equal(t, 4, countType(events, types.EventTypeStatusUpdate))
	require.Equal(t, 1, countType(events, types.EventTypeFulfilled))
}

func TestApply_VerifyAndWebhookRace(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	sources := []Evidence{webhook("evt-1"), {Source: types.EventSourceVerify, ProviderStatus: "success"}}
	var wg sync.WaitGroup
	results := make([]*Outcome, len(sources))
	errs := make([]error, len(sources))
	for i, ev := range sources {
		wg.Add(1)
		go func(i int, ev Evidence) {
			defer wg.Done()
			results[i], errs[i] = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, ev)
		}(i, ev)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, results[0].Committed, results[1].Committed, "exactly one caller commits")

	events := fx.events(t)
	require.Equal(t, 2, countType(events, types.EventTypeStatusUpdate))
	var sawWebhook, sawVerify bool
	for _, ev := range events {
		sawWebhook = sawWebhook || ev.Source == types.EventSourceWebhook
		sawVerify = sawVerify || ev.Source == types.EventSourceVerify
	}
	require.True(t, sawWebhook && sawVerify)
	require.Equal(t, 1, fx.f.Calls())
}

func TestApply_CompletedNeverRegresses(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)

	for _, proposed := range []types.PaymentStatus{types.PaymentStatusFailed, types.PaymentStatusAbandoned, types.PaymentStatusRefunded, types.PaymentStatusPending} {
		out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, proposed, Evidence{Source: types.EventSourceWebhook})
		require.NoError(t, err)
		require.False(t, out.Committed)
		require.Equal(t, types.PaymentStatusCompleted, out.Intent.Status, proposed)
		if proposed != types.PaymentStatusPending {
			require.NotEmpty(t, out.Anomaly, proposed)
		}
	}
	require.Equal(t, 3, countType(fx.events(t), types.EventTypeStatusAnomaly))
}

func TestApply_PendingOnlyRecords(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusPending, Evidence{Source: types.EventSourceVerify, ProviderStatus: "ongoing"})
	require.NoError(t, err)
	require.False(t, out.Committed)
	require.Equal(t, types.PaymentStatusPending, out.Intent.Status)

	events := fx.events(t)
	last := events[len(events)-1]
	require.Equal(t, types.EventTypeStatusUpdate, last.Type)
	require.Equal(t, "ongoing", last.Detail["provider_status"])
	require.Zero(t, fx.f.Calls())
}

func TestApply_ShortAmountIsAnomaly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	ev := webhook("evt-1")
	ev.Amount = decimal.NewNullDecimal(decimal.NewFromInt(10))
	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, ev)
	require.NoError(t, err)
	require.Equal(t, AnomalyAmountShort, out.Anomaly)
	require.Equal(t, types.PaymentStatusPending, out.Intent.Status)
	require.Zero(t, fx.f.Calls())
}

func TestApply_CurrencyMismatchIsAnomaly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	// same figure, different currency: 1000 USD is not 1000 NGN
	ev := webhook("evt-1")
	ev.Currency = "USD"
	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, ev)
	require.NoError(t, err)
	require.Equal(t, AnomalyCurrencyMismatch, out.Anomaly)
	require.False(t, out.Committed)
	require.Equal(t, types.PaymentStatusPending, out.Intent.Status)
	require.Zero(t, fx.f.Calls())

	events := fx.events(t)
	last := events[len(events)-1]
	require.Equal(t, types.EventTypeStatusAnomaly, last.Type)
	require.Equal(t, "NGN", last.Detail["expected_currency"])
	require.Equal(t, "USD", last.Detail["currency"])

	ev = webhook("evt-2")
	ev.Currency = "ngn"
	out, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, ev)
	require.NoError(t, err)
	require.Empty(t, out.Anomaly)
	require.True(t, out.Committed)
}

func TestApply_SupersededAttemptFailureKeepsIntentOpen(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	retry := *fx.sub
	retry.AttemptReference = reference.NewAttemptReference()
	_, err := fx.j.AppendAttempt(ctx, &retry)
	require.NoError(t, err)

	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusAbandoned, Evidence{Source: types.EventSourceWebhook})
	require.NoError(t, err)
	require.False(t, out.Committed)
	require.Equal(t, types.PaymentStatusPending, out.Intent.Status)

	out, err = fx.r.Apply(ctx, fx.sub.IntentReference, retry.AttemptReference, types.PaymentStatusFailed, Evidence{Source: types.EventSourceVerify})
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Equal(t, types.PaymentStatusFailed, out.Intent.Status)
}

func TestApply_UnknownReferences(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.r.Apply(ctx, "SET-20260101-0000000000AA", fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("x"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = fx.r.Apply(ctx, fx.sub.IntentReference, reference.NewAttemptReference(), types.PaymentStatusCompleted, webhook("x"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, "paid", webhook("x"))
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApply_FulfillmentFailureIsRepairedLater(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.f.err = errors.New("storage offline")

	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)
	require.True(t, out.Committed)
	require.Nil(t, out.Grant)
	require.Equal(t, 1, countType(fx.events(t), types.EventTypeFulfillmentFailed))

	// inside the grace window a second proposal leaves fulfillment alone
	fx.f.err = nil
	_, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, Evidence{Source: types.EventSourceVerify})
	require.NoError(t, err)
	require.Equal(t, 1, fx.f.Calls())

	fx.r.now = func() time.Time { return time.Now().Add(2 * repairAfter) }
	out, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, Evidence{Source: types.EventSourceVerify})
	require.NoError(t, err)
	require.NotNil(t, out.Grant)
	require.Equal(t, 2, fx.f.Calls())
	require.Len(t, fx.pub.events, 1)

	intent, err := fx.j.Get(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.False(t, intent.NeedsFulfillment())
}

func TestRepair(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	grant, err := fx.r.Repair(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.Nil(t, grant, "pending intents are not fulfilled")

	fx.f.err = errors.New("storage offline")
	_, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)
	fx.f.err = nil

	grant, err = fx.r.Repair(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.Nil(t, grant)

	fx.r.now = func() time.Time { return time.Now().Add(2 * repairAfter) }
	grant, err = fx.r.Repair(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.NotNil(t, grant)

	grant, err = fx.r.Repair(ctx, fx.sub.IntentReference)
	require.NoError(t, err)
	require.Nil(t, grant)
	require.Equal(t, 2, fx.f.Calls())
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, _, err := fx.r.Refund(ctx, fx.sub.IntentReference, "ops", "duplicate purchase")
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)

	intent, committed, err := fx.r.Refund(ctx, fx.sub.IntentReference, "ops", "duplicate purchase")
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, types.PaymentStatusRefunded, intent.Status)
	require.NotNil(t, intent.RefundedAt)

	_, committed, err = fx.r.Refund(ctx, fx.sub.IntentReference, "ops", "again")
	require.NoError(t, err)
	require.False(t, committed)

	out, err := fx.r.Apply(ctx, fx.sub.IntentReference, fx.sub.AttemptReference, types.PaymentStatusCompleted, webhook("evt-1"))
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusRefunded, out.Intent.Status)
	require.Equal(t, AnomalyConflictingStatus, out.Anomaly)

	require.Equal(t, 1, countType(fx.events(t), types.EventTypeRefunded))
	require.Len(t, fx.pub.events, 2)
	require.Equal(t, notify.EventPurchaseRefunded, fx.pub.events[1].Type)
}

package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type verifyStep struct {
	status types.PaymentStatus
	err    error
	// offlineFor makes the next n pings fail, as if the network dropped.
	offlineFor int
}

type fakeAPI struct {
	mu           sync.Mutex
	offline      int
	pings        int
	checkoutErrs []error
	checkouts    []CheckoutRequest
	settled      types.PaymentStatus
	verifySteps  []verifyStep
	verifies     int
}

var errNetwork = &Error{Offline: true, Err: errors.New("dial tcp: connection refused")}

func (f *fakeAPI) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.offline > 0 {
		f.offline--
		return errNetwork
	}
	return nil
}

func (f *fakeAPI) Checkout(_ context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, *req)
	if len(f.checkoutErrs) > 0 {
		err := f.checkoutErrs[0]
		f.checkoutErrs = f.checkoutErrs[1:]
		return nil, err
	}
	status := types.PaymentStatusPending
	if f.settled != "" {
		status = f.settled
	}
	return &CheckoutResult{
		IntentReference:  req.IntentReference,
		AttemptReference: reference.NewAttemptReference(),
		RedirectURL:      "https://pay.example/" + req.IntentReference,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentStatus:    status,
	}, nil
}

func (f *fakeAPI) Verify(_ context.Context, intentRef, attemptRef string) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	step := verifyStep{status: types.PaymentStatusPending}
	if len(f.verifySteps) > 0 {
		step = f.verifySteps[0]
		f.verifySteps = f.verifySteps[1:]
	}
	f.offline += step.offlineFor
	if step.status == "" {
		return nil, step.err
	}
	return &Status{IntentReference: intentRef, AttemptReference: attemptRef, PaymentStatus: step.status}, step.err
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) add(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) phases(p Phase) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, u := range r.updates {
		if u.Phase == p {
			out = append(out, u)
		}
	}
	return out
}

func fastOptions(rec *recorder) Options {
	return Options{
		RetryDelay:           4 * time.Millisecond,
		CountdownTick:        time.Millisecond,
		ReachabilityInterval: time.Millisecond,
		PendingInterval:      time.Millisecond,
		MaxPendingPolls:      5,
		OnUpdate:             rec.add,
	}
}

func purchase() *CheckoutRequest {
	return &CheckoutRequest{
		Email:    "ada@example.com",
		Amount:   decimal.NewFromInt(1000),
		Currency: "NGN",
		FileID:   "ebook-1",
		Rail:     types.RailPaystack,
	}
}

func retryable(msg string) error {
	return &Error{HTTPStatus: http.StatusServiceUnavailable, Type: types.ErrorTypeGateway, Message: msg, Retryable: true}
}

func TestController_ReusesStoredIntentReference(t *testing.T) {
	api := &fakeAPI{}
	store := NewMemoryStore()
	c := NewController(api, store, fastOptions(&recorder{}))
	defer c.Close()

	first, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	require.True(t, reference.ValidIntentReference(first.IntentReference))

	stored, ok, err := store.Load(SessionKey("ADA@example.com ", "ebook-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.IntentReference, stored)

	again, err := NewController(api, store, fastOptions(&recorder{})).Checkout(context.Background(), purchase())
	require.NoError(t, err)
	require.Equal(t, first.IntentReference, again.IntentReference)
	require.NotEqual(t, first.AttemptReference, again.AttemptReference)
}

func TestController_RetryableFailuresThenSuccess(t *testing.T) {
	api := &fakeAPI{checkoutErrs: []error{retryable("upstream"), retryable("upstream"), errNetwork}}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	res, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusPending, res.PaymentStatus)

	require.Len(t, api.checkouts, 4)
	for _, req := range api.checkouts {
		require.Equal(t, res.IntentReference, req.IntentReference)
	}

	waits := rec.phases(PhaseRetryWait)
	require.NotEmpty(t, waits)
	require.Equal(t, 1, waits[0].Attempt)
	require.Equal(t, 3, waits[len(waits)-1].Attempt)
	require.Equal(t, 3, waits[0].MaxAttempts)
	require.Equal(t, 4*time.Millisecond, waits[0].RetryIn)
	require.Len(t, rec.phases(PhaseRedirect), 1)
	require.Equal(t, res.RedirectURL, rec.phases(PhaseRedirect)[0].RedirectURL)
}

func TestController_RetriesExhaustedNeedsUserAction(t *testing.T) {
	api := &fakeAPI{checkoutErrs: []error{retryable("a"), retryable("b"), retryable("c"), retryable("d")}}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts)
	require.Len(t, api.checkouts, 4)
	require.Len(t, rec.phases(PhaseNeedsAction), 1)

	// explicit try again: new attempt, same intent
	res, err := c.Retry(context.Background())
	require.NoError(t, err)
	require.Len(t, api.checkouts, 5)
	require.Equal(t, api.checkouts[0].IntentReference, res.IntentReference)
}

func TestController_PermanentErrorIsNotRetried(t *testing.T) {
	permanent := &Error{HTTPStatus: http.StatusBadGateway, Type: types.ErrorTypeGateway, Message: "invalid key"}
	api := &fakeAPI{checkoutErrs: []error{permanent}}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.ErrorIs(t, err, permanent)
	require.Len(t, api.checkouts, 1)
	require.Empty(t, rec.phases(PhaseRetryWait))
}

func TestController_ConflictStartsOver(t *testing.T) {
	api := &fakeAPI{checkoutErrs: []error{&Error{HTTPStatus: http.StatusConflict, Type: types.ErrorTypeDeveloper, Message: "start a new checkout"}}}
	store := NewMemoryStore()
	c := NewController(api, store, fastOptions(&recorder{}))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.True(t, IsConflict(err))
	_, ok, _ := store.Load(SessionKey("ada@example.com", "ebook-1"))
	require.False(t, ok)

	res, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	require.NotEqual(t, api.checkouts[0].IntentReference, res.IntentReference)
}

func TestController_RetryAfterConflictOpensNewIntent(t *testing.T) {
	api := &fakeAPI{checkoutErrs: []error{&Error{HTTPStatus: http.StatusConflict, Type: types.ErrorTypeDeveloper, Message: "start a new checkout"}}}
	c := NewController(api, NewMemoryStore(), fastOptions(&recorder{}))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.True(t, IsConflict(err))

	res, err := c.Retry(context.Background())
	require.NoError(t, err)
	require.Len(t, api.checkouts, 2)
	require.NotEqual(t, api.checkouts[0].IntentReference, api.checkouts[1].IntentReference)
	require.Equal(t, api.checkouts[1].IntentReference, res.IntentReference)
	require.True(t, reference.ValidIntentReference(res.IntentReference))
}

func TestController_RetryAfterAbandonedOpensNewIntent(t *testing.T) {
	api := &fakeAPI{verifySteps: []verifyStep{{status: types.PaymentStatusAbandoned}}}
	store := NewMemoryStore()
	c := NewController(api, store, fastOptions(&recorder{}))
	defer c.Close()

	first, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	st, err := c.AwaitResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusAbandoned, st.PaymentStatus)

	res, err := c.Retry(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.IntentReference, res.IntentReference)
	stored, ok, err := store.Load(SessionKey("ada@example.com", "ebook-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.IntentReference, stored)
}

func TestController_RetryAfterCompletedIsRefused(t *testing.T) {
	api := &fakeAPI{settled: types.PaymentStatusCompleted}
	c := NewController(api, nil, fastOptions(&recorder{}))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)

	_, err = c.Retry(context.Background())
	require.ErrorIs(t, err, ErrSettled)
	require.Len(t, api.checkouts, 1)
}

func TestController_PopupClosedVerifiesUntilSettled(t *testing.T) {
	api := &fakeAPI{verifySteps: []verifyStep{
		{status: types.PaymentStatusPending},
		{status: types.PaymentStatusPending},
		{status: types.PaymentStatusCompleted},
	}}
	store := NewMemoryStore()
	rec := &recorder{}
	c := NewController(api, store, fastOptions(rec))
	defer c.Close()

	res, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)

	st, err := c.PopupClosed(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, st.PaymentStatus)
	require.Equal(t, res.AttemptReference, st.AttemptReference)
	require.Equal(t, 3, api.verifies)
	require.Len(t, rec.phases(PhasePending), 2)
	require.Len(t, rec.phases(PhaseSettled), 1)

	_, ok, _ := store.Load(SessionKey("ada@example.com", "ebook-1"))
	require.False(t, ok)
}

func TestController_OfflineMidVerificationResumes(t *testing.T) {
	api := &fakeAPI{verifySteps: []verifyStep{
		{err: errNetwork, offlineFor: 3},
		{status: types.PaymentStatusCompleted},
	}}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)

	st, err := c.AwaitResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, st.PaymentStatus)
	require.Equal(t, 2, api.verifies)
	require.NotEmpty(t, rec.phases(PhaseOffline))
	// losing the network does not use up a retry
	require.Empty(t, rec.phases(PhaseRetryWait))
}

func TestController_GatewayDownWhileVerifying(t *testing.T) {
	api := &fakeAPI{verifySteps: []verifyStep{
		{status: types.PaymentStatusPending, err: retryable("rail unreachable")},
		{status: types.PaymentStatusAbandoned},
	}}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	st, err := c.AwaitResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusAbandoned, st.PaymentStatus)
	require.NotEmpty(t, rec.phases(PhaseRetryWait))
}

func TestController_PendingPollBudget(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(api, nil, fastOptions(&recorder{}))
	defer c.Close()

	_, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	st, err := c.AwaitResult(context.Background())
	require.ErrorIs(t, err, ErrStillPending)
	require.Equal(t, types.PaymentStatusPending, st.PaymentStatus)
	require.Equal(t, 5, api.verifies)
}

func TestController_AlreadySettledIntent(t *testing.T) {
	api := &fakeAPI{settled: types.PaymentStatusCompleted}
	rec := &recorder{}
	c := NewController(api, nil, fastOptions(rec))
	defer c.Close()

	res, err := c.Checkout(context.Background(), purchase())
	require.NoError(t, err)
	require.Equal(t, types.PaymentStatusCompleted, res.PaymentStatus)
	require.Len(t, rec.phases(PhaseSettled), 1)
	require.Empty(t, rec.phases(PhaseRedirect))
}

func TestController_CloseCancelsTimers(t *testing.T) {
	api := &fakeAPI{checkoutErrs: []error{retryable("upstream")}}
	opts := fastOptions(&recorder{})
	opts.RetryDelay = time.Hour
	opts.CountdownTick = time.Hour
	c := NewController(api, nil, opts)

	done := make(chan error, 1)
	go func() {
		_, err := c.Checkout(context.Background(), purchase())
		done <- err
	}()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.checkouts) == 1
	}, time.Second, time.Millisecond)

	c.Close()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("countdown was not cancelled")
	}
}

func TestController_NoCheckout(t *testing.T) {
	c := NewController(&fakeAPI{}, nil, Options{})
	defer c.Close()
	_, err := c.AwaitResult(context.Background())
	require.ErrorIs(t, err, ErrNoCheckout)
	_, err = c.Retry(context.Background())
	require.ErrorIs(t, err, ErrNoCheckout)
}

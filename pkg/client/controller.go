package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"go.uber.org/zap"
)

// API is the server surface the Controller drives. *Client implements it.
type API interface {
	Ping(ctx context.Context) error
	Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error)
	Verify(ctx context.Context, intentRef, attemptRef string) (*Status, error)
}

type Phase string

const (
	PhaseOffline     Phase = "offline"
	PhaseInitiating  Phase = "initiating"
	PhaseRedirect    Phase = "redirect"
	PhaseVerifying   Phase = "verifying"
	PhaseRetryWait   Phase = "retry_wait"
	PhasePending     Phase = "pending"
	PhaseSettled     Phase = "settled"
	PhaseNeedsAction Phase = "needs_action"
)

// Update is what a front end renders: the current phase plus, while waiting
// to retry, the attempt counter and the countdown.
type Update struct {
	Phase       Phase
	Op          string
	Attempt     int
	MaxAttempts int
	RetryIn     time.Duration
	RedirectURL string
	Status      *Status
	Err         error
}

const (
	opCheckout = "checkout"
	opVerify   = "verify"
)

var (
	ErrClosed       = errors.New("client: controller closed")
	ErrNoCheckout   = errors.New("client: no checkout in progress")
	ErrStillPending = errors.New("client: payment still pending")
	ErrSettled      = errors.New("client: payment already settled")
)

// RetriesExhaustedError is returned once automatic retries are used up. The
// user has to ask for another try.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

type Options struct {
	// MaxRetries bounds automatic retries of one operation. Default 3.
	MaxRetries int
	// RetryDelay is the fixed wait before each retry. Default 5s.
	RetryDelay time.Duration
	// CountdownTick is how often a RetryWait update is emitted. Default 1s.
	CountdownTick time.Duration
	// ReachabilityInterval is how often the API is pinged while offline. Default 3s.
	ReachabilityInterval time.Duration
	// PendingInterval spaces verify polls while the payment is pending. Default 5s.
	PendingInterval time.Duration
	// MaxPendingPolls bounds verify polls per AwaitResult. Default 24.
	MaxPendingPolls int
	OnUpdate        func(Update)
	Log             *zap.SugaredLogger
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.CountdownTick <= 0 {
		o.CountdownTick = time.Second
	}
	if o.ReachabilityInterval <= 0 {
		o.ReachabilityInterval = 3 * time.Second
	}
	if o.PendingInterval <= 0 {
		o.PendingInterval = 5 * time.Second
	}
	if o.MaxPendingPolls <= 0 {
		o.MaxPendingPolls = 24
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
}

// Controller runs one checkout session: it reuses the stored intent
// reference, checks reachability before every call, retries retryable
// failures after a fixed delay and verifies once the payment page is
// dismissed. Every wait ends when the controller is closed.
type Controller struct {
	api   API
	store IntentStore
	opts  Options

	mu      sync.Mutex
	key     string
	last    *CheckoutRequest
	current *CheckoutResult
	// session is closed once the payment settles, stopping its timers.
	session chan struct{}
	ended   bool
	// paid is set when the session settled as completed.
	paid bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewController(api API, store IntentStore, opts Options) *Controller {
	opts.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	return &Controller{api: api, store: store, opts: opts, session: make(chan struct{}), done: make(chan struct{})}
}

// Close cancels every pending timer. Calls in flight return ErrClosed.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Controller) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Current returns the latest initiated attempt, if any.
func (c *Controller) Current() *CheckoutResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Checkout starts or resumes the session for req's customer and file. The
// intent reference is minted locally on first use and stored, so every
// retry lands on the same intent.
func (c *Controller) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	key := SessionKey(req.Email, req.FileID)
	r := *req
	if r.IntentReference == "" {
		ref, ok, err := c.store.Load(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			ref = reference.NewIntentReference()
			if err := c.store.Save(key, ref); err != nil {
				return nil, err
			}
		}
		r.IntentReference = ref
	}

	c.mu.Lock()
	c.key, c.last, c.current, c.paid = key, &r, nil, false
	if c.ended {
		c.session, c.ended = make(chan struct{}), false
	}
	c.mu.Unlock()

	return c.initiate(ctx)
}

// Retry is the explicit "try again": a new attempt on the same intent. Once
// that intent has closed without a charge the retry opens a new intent, and
// after a completed payment it returns ErrSettled.
func (c *Controller) Retry(ctx context.Context) (*CheckoutResult, error) {
	c.mu.Lock()
	last, paid := c.last, c.paid
	var next CheckoutRequest
	if last != nil {
		next = *last
	}
	c.mu.Unlock()
	switch {
	case last == nil:
		return nil, ErrNoCheckout
	case paid:
		return nil, ErrSettled
	case next.IntentReference == "":
		return c.Checkout(ctx, &next)
	}
	return c.initiate(ctx)
}

// forgetIntent drops the intent reference of the session under key so the
// next attempt mints a new one.
func (c *Controller) forgetIntent(key string) {
	c.mu.Lock()
	if c.last != nil && c.key == key {
		c.last.IntentReference = ""
	}
	c.mu.Unlock()
	if err := c.store.Clear(key); err != nil {
		c.opts.Log.Warnw("intent_store_clear_failed", "key", key, "error", err)
	}
}

func (c *Controller) initiate(ctx context.Context) (*CheckoutResult, error) {
	c.mu.Lock()
	req, key := *c.last, c.key
	c.mu.Unlock()

	c.emit(Update{Phase: PhaseInitiating, Op: opCheckout})
	var res *CheckoutResult
	err := c.run(ctx, opCheckout, func(ctx context.Context) error {
		var err error
		res, err = c.api.Checkout(ctx, &req)
		return err
	})
	if err != nil {
		if IsConflict(err) {
			// the intent closed without a charge
			c.forgetIntent(key)
		}
		c.emit(Update{Phase: PhaseNeedsAction, Op: opCheckout, Err: err})
		return nil, err
	}

	c.mu.Lock()
	c.current = res
	c.mu.Unlock()
	c.opts.Log.Infow("checkout_initiated", "intent_reference", res.IntentReference, "attempt_reference", res.AttemptReference)

	if res.PaymentStatus.Terminal() {
		c.settle(&Status{
			IntentReference:  res.IntentReference,
			AttemptReference: res.AttemptReference,
			PaymentStatus:    res.PaymentStatus,
			Amount:           res.Amount,
			Currency:         res.Currency,
		})
		return res, nil
	}
	c.emit(Update{Phase: PhaseRedirect, Op: opCheckout, RedirectURL: res.RedirectURL})
	return res, nil
}

// PopupClosed is called when the payment page or redirect is dismissed,
// whether or not the customer paid. It verifies until the payment settles.
func (c *Controller) PopupClosed(ctx context.Context) (*Status, error) {
	return c.AwaitResult(ctx)
}

// AwaitResult verifies the current attempt, polling while it is pending.
// ErrStillPending comes back with the last status once the poll budget is
// spent.
func (c *Controller) AwaitResult(ctx context.Context) (*Status, error) {
	cur := c.Current()
	if cur == nil {
		return nil, ErrNoCheckout
	}
	for poll := 1; ; poll++ {
		c.emit(Update{Phase: PhaseVerifying, Op: opVerify})
		var st *Status
		err := c.run(ctx, opVerify, func(ctx context.Context) error {
			var err error
			st, err = c.api.Verify(ctx, cur.IntentReference, cur.AttemptReference)
			return err
		})
		if err != nil {
			c.emit(Update{Phase: PhaseNeedsAction, Op: opVerify, Status: st, Err: err})
			return st, err
		}
		if st.PaymentStatus.Terminal() {
			c.settle(st)
			return st, nil
		}
		if poll >= c.opts.MaxPendingPolls {
			c.emit(Update{Phase: PhaseNeedsAction, Op: opVerify, Status: st, Err: ErrStillPending})
			return st, ErrStillPending
		}
		c.emit(Update{Phase: PhasePending, Op: opVerify, Status: st})
		if err := c.wait(ctx, c.opts.PendingInterval); err != nil {
			return st, err
		}
	}
}

// settle forgets a session once its intent can take no more attempts and
// stops its timers. Completed sessions are cleared too: the next purchase of
// the same file is a new intent.
func (c *Controller) settle(st *Status) {
	c.mu.Lock()
	key := c.key
	if !c.ended {
		close(c.session)
		c.ended = true
	}
	c.paid = st.PaymentStatus == types.PaymentStatusCompleted
	c.mu.Unlock()
	c.forgetIntent(key)
	c.opts.Log.Infow("payment_settled", "intent_reference", st.IntentReference, "payment_status", st.PaymentStatus)
	c.emit(Update{Phase: PhaseSettled, Status: st})
}

// run executes fn with the reachability guard and the retry policy. Losing
// the network does not use up a retry: the call is re-issued once the API
// answers a ping again.
func (c *Controller) run(ctx context.Context, op string, fn func(context.Context) error) error {
	failures := 0
	for {
		if err := c.awaitOnline(ctx); err != nil {
			return err
		}
		if c.closed() {
			return ErrClosed
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if IsOffline(err) && c.api.Ping(ctx) != nil {
			c.opts.Log.Infow("api_unreachable", "op", op, "error", err)
			continue
		}
		failures++
		if failures > c.opts.MaxRetries {
			return &RetriesExhaustedError{Op: op, Attempts: failures, Err: err}
		}
		c.opts.Log.Infow("retry_scheduled", "op", op, "retry", failures, "delay", c.opts.RetryDelay, "error", err)
		if err := c.countdown(ctx, op, failures, err); err != nil {
			return err
		}
	}
}

func (c *Controller) awaitOnline(ctx context.Context) error {
	if c.api.Ping(ctx) == nil {
		return nil
	}
	for {
		c.emit(Update{Phase: PhaseOffline})
		if err := c.wait(ctx, c.opts.ReachabilityInterval); err != nil {
			return err
		}
		if c.api.Ping(ctx) == nil {
			return nil
		}
	}
}

func (c *Controller) countdown(ctx context.Context, op string, retry int, cause error) error {
	remaining := c.opts.RetryDelay
	for remaining > 0 {
		c.emit(Update{Phase: PhaseRetryWait, Op: op, Attempt: retry, MaxAttempts: c.opts.MaxRetries, RetryIn: remaining, Err: cause})
		step := min(c.opts.CountdownTick, remaining)
		if err := c.wait(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case <-session:
		return ErrSettled
	}
}

func (c *Controller) emit(u Update) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(u)
	}
}

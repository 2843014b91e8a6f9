package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/metrics"
	"github.com/fatflowers/settle/pkg/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrRailNotSupported = errors.New("rail is not supported")

type Registry struct {
	adapters map[types.Rail]Adapter
}

// NewRegistry indexes adapters by rail. Nil adapters (disabled rails) are skipped.
func NewRegistry(adapters ...Adapter) *Registry {
	items := make(map[types.Rail]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		items[a.Rail()] = a
	}
	return &Registry{adapters: items}
}

func (r *Registry) Get(rail types.Rail) (Adapter, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return nil, ErrRailNotSupported
	}
	return a, nil
}

// Rails lists the enabled rails in name order.
func (r *Registry) Rails() []types.Rail {
	out := make([]types.Rail, 0, len(r.adapters))
	for rail := range r.adapters {
		out = append(out, rail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// bounded applies the configured call timeout and records latency around
// every outbound call. Webhook helpers are local and pass straight through.
type bounded struct {
	Adapter
	timeout time.Duration
	log     *zap.SugaredLogger
}

// Bound wraps a so every Initiate and Verify call is cut off after timeout.
func Bound(a Adapter, timeout time.Duration, log *zap.SugaredLogger) Adapter {
	if a == nil {
		return nil
	}
	return &bounded{Adapter: a, timeout: timeout, log: log}
}

func (b *bounded) Initiate(ctx context.Context, in *InitiateInput) (*InitiateOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	start := time.Now()
	out, err := b.Adapter.Initiate(ctx, in)
	b.observe("initiate", start, err)
	if err != nil {
		return nil, Classify(b.Rail(), "initiate", err)
	}
	return out, nil
}

func (b *bounded) Verify(ctx context.Context, attempt *models.Attempt) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	start := time.Now()
	res, err := b.Adapter.Verify(ctx, attempt)
	b.observe("verify", start, err)
	if err != nil {
		return nil, Classify(b.Rail(), "verify", err)
	}
	return res, nil
}

func (b *bounded) VerifyWebhookSignature(body []byte, header http.Header) bool {
	return b.Adapter.VerifyWebhookSignature(body, header)
}

func (b *bounded) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsRetryable(Classify(b.Rail(), op, err)):
		outcome = "retryable"
	default:
		outcome = "permanent"
	}
	metrics.ObserveGatewayCall(string(b.Rail()), op, outcome, start)
	if err != nil {
		b.log.Warnw("gateway_call_failed", "rail", b.Rail(), "op", op, "outcome", outcome, "elapsed_ms", metrics.MillisecondsSince(start), "error", err)
	}
}

type RegistryParams struct {
	fx.In

	Config   *config.Config
	Log      *zap.SugaredLogger
	Adapters []Adapter `group:"rails"`
}

// NewRegistryFromParams collects the rail adapters provided to the "rails"
// group and bounds each with the configured gateway timeout.
func NewRegistryFromParams(p RegistryParams) *Registry {
	bounded := make([]Adapter, 0, len(p.Adapters))
	for _, a := range p.Adapters {
		if a == nil {
			continue
		}
		bounded = append(bounded, Bound(a, p.Config.Gateway.Timeout, p.Log))
	}
	r := NewRegistry(bounded...)
	p.Log.Infow("gateway registry ready", "rails", r.Rails())
	return r
}

// AsRail annotates a rail constructor for the "rails" group. The constructor
// must return an Adapter, nil when the rail is disabled.
func AsRail(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"rails"`))
}

var Module = fx.Options(
	fx.Provide(NewRegistryFromParams),
)

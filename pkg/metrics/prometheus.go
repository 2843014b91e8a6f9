package metrics

// HTTP request metrics for gin, derived from github.com/zsais/go-gin-prometheus.
// Differences: zap logger, no push gateway, route and rail labels instead of
// raw paths and referer, optional separate listener that stops with the app.

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var requestLabels = []string{"code", "method", "route", "rail"}

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "HTTP requests processed, partitioned by status code, method, route and rail.",
	Type:        "counter_vec",
	Args:        requestLabels,
}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "HTTP request latency in milliseconds.",
	Type:        "histogram_vec",
	Args:        requestLabels,
}

var resSz = &Metric{
	ID:          "resSz",
	Name:        "resp_sz_bytes",
	Description: "HTTP response sizes in bytes.",
	Type:        "summary_vec",
	Args:        requestLabels,
}

var reqSz = &Metric{
	ID:          "reqSz",
	Name:        "req_sz_bytes",
	Description: "HTTP request sizes in bytes.",
	Type:        "summary_vec",
	Args:        requestLabels,
}

var requestMetrics = []*Metric{reqCnt, reqDur, resSz, reqSz}

const defaultMetricsPath = "/metrics"

// Logger is satisfied by *zap.SugaredLogger.
type Logger interface {
	Errorw(msg string, keysAndValues ...interface{})
}

// RouteLabelFn maps a request to its "route" label. It must keep cardinality
// bounded, so returning c.FullPath() is preferred over the raw URL.
type RouteLabelFn func(c *gin.Context) string

type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	metricsPath string
	routeLabel  RouteLabelFn
	logger      Logger

	listenAddress string
	router        *gin.Engine
	server        *http.Server

	MetricsList []*Metric
}

type NewPrometheusOptions struct {
	Subsystem   string
	MetricsList []*Metric
	MetricsPath string
	// ReqCntURLLabelMappingFn defaults to the matched route template.
	ReqCntURLLabelMappingFn RouteLabelFn
	Logger                  Logger
}

// NewPrometheus registers the request metrics plus options.MetricsList under
// the given subsystem. Collectors already registered are reused.
func NewPrometheus(options NewPrometheusOptions) *Prometheus {
	list := make([]*Metric, 0, len(options.MetricsList)+len(requestMetrics))
	list = append(list, options.MetricsList...)
	list = append(list, requestMetrics...)

	p := &Prometheus{
		MetricsList: list,
		metricsPath: options.MetricsPath,
		routeLabel:  options.ReqCntURLLabelMappingFn,
		logger:      options.Logger,
	}
	if p.metricsPath == "" {
		p.metricsPath = defaultMetricsPath
	}
	if p.routeLabel == nil {
		p.routeLabel = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}

	p.registerMetrics(options.Subsystem)
	return p
}

// SetListenAddress serves /metrics on its own listener instead of the API
// engine. Empty keeps it on the engine passed to Use.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
	if address != "" {
		p.router = gin.New()
		p.router.Use(gin.Recovery())
	}
}

func (p *Prometheus) registerMetrics(subsystem string) {
	for _, def := range p.MetricsList {
		collector := NewMetric(def, subsystem)
		if err := prometheus.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				collector = already.ExistingCollector
			} else {
				p.logger.Errorw("metric_register_failed", "metric", def.Name, "error", err)
			}
		}
		switch def {
		case reqCnt:
			p.reqCnt = collector.(*prometheus.CounterVec)
		case reqDur:
			p.reqDur = collector.(*prometheus.HistogramVec)
		case resSz:
			p.resSz = collector.(*prometheus.SummaryVec)
		case reqSz:
			p.reqSz = collector.(*prometheus.SummaryVec)
		}
		def.MetricCollector = collector
	}
}

// Use installs the request middleware on e and mounts the metrics endpoint,
// starting the separate listener when one is configured.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.metricsPath, prometheusHandler())
		return
	}
	p.router.GET(p.metricsPath, prometheusHandler())
	p.server = &http.Server{Addr: p.listenAddress, Handler: p.router}
	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Errorw("metrics_server_stopped", "addr", p.listenAddress, "error", err)
		}
	}()
}

// Shutdown stops the separate metrics listener, if any.
func (p *Prometheus) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		in := float64(computeApproximateRequestSize(c.Request))

		c.Next()

		labels := []string{
			strconv.Itoa(c.Writer.Status()),
			c.Request.Method,
			p.routeLabel(c),
			// empty except on the webhook route
			c.Param("rail"),
		}
		p.reqDur.WithLabelValues(labels...).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(labels...).Inc()
		p.reqSz.WithLabelValues(labels...).Observe(in)
		p.resSz.WithLabelValues(labels...).Observe(float64(c.Writer.Size()))
	}
}

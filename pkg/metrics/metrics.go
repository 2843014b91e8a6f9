package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// --- Medium responses around 700ms (500ms - 2s) ---
	750, 1000, 1250, 1500, 1750, 2000,

	// --- Slow responses (2s - 15s) ---
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// --- Extended range: covers 60000ms+ (15s - 75s) ---
	20000,  // 20s
	30000,  // 30s
	45000,  // 45s
	60000,  // 60s
	75000,  // 75s
	90000,  // 90s
	120000, // 120s
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
			m.Args,
		)
	case "histogram":
		metric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "summary":
		metric = prometheus.NewSummary(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	}
	return metric
}

// GatewayCallDuration times every outbound rail call.
var GatewayCallDuration = &Metric{
	ID:          "gwDur",
	Name:        "gateway_call_dur_ms",
	Description: "Outbound gateway call latency in milliseconds, partitioned by rail, operation and outcome.",
	Type:        "histogram_vec",
	Args:        []string{"rail", "op", "outcome"},
}

var ReconcileOutcomes = &Metric{
	ID:          "reconcileCnt",
	Name:        "reconcile_total",
	Description: "Reconciler decisions, partitioned by evidence source and result.",
	Type:        "counter_vec",
	Args:        []string{"source", "result"},
}

var WebhookDeliveries = &Metric{
	ID:          "webhookCnt",
	Name:        "webhook_total",
	Description: "Inbound webhook deliveries, partitioned by rail and result.",
	Type:        "counter_vec",
	Args:        []string{"rail", "result"},
}

var FulfillmentGrants = &Metric{
	ID:          "grantCnt",
	Name:        "fulfillment_total",
	Description: "Download grant issuance, partitioned by result.",
	Type:        "counter_vec",
	Args:        []string{"result"},
}

// DomainMetrics are registered alongside the HTTP metrics by NewPrometheus.
var DomainMetrics = []*Metric{
	GatewayCallDuration,
	ReconcileOutcomes,
	WebhookDeliveries,
	FulfillmentGrants,
}

// The helpers below are no-ops until NewPrometheus has registered the collectors.

func ObserveGatewayCall(rail, op, outcome string, start time.Time) {
	if h, ok := GatewayCallDuration.MetricCollector.(*prometheus.HistogramVec); ok {
		h.WithLabelValues(rail, op, outcome).Observe(MillisecondsSince(start))
	}
}

func IncReconcile(source, result string) {
	if c, ok := ReconcileOutcomes.MetricCollector.(*prometheus.CounterVec); ok {
		c.WithLabelValues(source, result).Inc()
	}
}

func IncWebhook(rail, result string) {
	if c, ok := WebhookDeliveries.MetricCollector.(*prometheus.CounterVec); ok {
		c.WithLabelValues(rail, result).Inc()
	}
}

func IncFulfillment(result string) {
	if c, ok := FulfillmentGrants.MetricCollector.(*prometheus.CounterVec); ok {
		c.WithLabelValues(result).Inc()
	}
}

// MillisecondsSince returns the elapsed time since start in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}
	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}

func prometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

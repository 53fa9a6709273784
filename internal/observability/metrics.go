package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloak_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloak_in_flight",
		Help: "In-flight HTTP requests",
	})
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_decisions_total",
			Help: "Redirect decisions by blocking layer (none when allowed)",
		}, []string{"layer"},
	)
	GeoLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_geo_lookups_total",
			Help: "Third-party geo lookups by result",
		}, []string{"result"},
	)
	AccessLogWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_access_log_writes_total",
			Help: "Access log writes by result",
		}, []string{"result"},
	)
	CampaignIndexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloak_campaign_index_size",
		Help: "Campaigns held in the in-memory index",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, Decisions, GeoLookups, AccessLogWrites, CampaignIndexSize)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}

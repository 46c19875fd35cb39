package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the server. Counters are bumped
// as events happen, gauges are refreshed right before every scrape.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       prometheus.Counter
	segmentsServedTotal prometheus.Counter
	segmentErrorsTotal  *prometheus.CounterVec
	clientsEvictedTotal prometheus.Counter
	activeClients       prometheus.Gauge
	activeMedia         prometheus.Gauge
	activeEncoders      prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsvod_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		segmentsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsvod_segments_served_total",
			Help: "Total number of segments delivered to clients",
		}),
		segmentErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlsvod_segment_errors_total",
			Help: "Total number of failed segment requests",
		}, []string{"reason"}),
		clientsEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsvod_clients_evicted_total",
			Help: "Total number of clients evicted to make room for new ones",
		}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsvod_active_clients",
			Help: "Number of clients currently tracked",
		}),
		activeMedia: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsvod_active_media",
			Help: "Number of media descriptors currently cached",
		}),
		activeEncoders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hlsvod_active_encoders",
			Help: "Number of ffmpeg encoder processes currently running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.segmentsServedTotal,
		m.segmentErrorsTotal,
		m.clientsEvictedTotal,
		m.activeClients,
		m.activeMedia,
		m.activeEncoders,
	)

	return m
}

func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

func (m *Metrics) IncSegmentsServed() {
	m.segmentsServedTotal.Inc()
}

func (m *Metrics) IncSegmentErrors(reason string) {
	m.segmentErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncClientsEvicted() {
	m.clientsEvictedTotal.Inc()
}

func (m *Metrics) SetActive(clients, media, encoders int) {
	m.activeClients.Set(float64(clients))
	m.activeMedia.Set(float64(media))
	m.activeEncoders.Set(float64(encoders))
}

// Middleware counts every request passing through the router.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsTotal.Inc()
		next.ServeHTTP(w, r)
	})
}

// Handler serves the metrics endpoint. updateGauges runs before every scrape
// so gauges reflect the current state.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

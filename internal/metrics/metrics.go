package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adamscao/ovpnpanel/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ovpnpanel"

// Metrics holds the panel's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	clientsTotal     prometheus.Gauge
	clientsRevoked   prometheus.Gauge
	clientsConnected prometheus.Gauge
	serverUp         prometheus.Gauge

	clientBytesSent        *prometheus.GaugeVec
	clientBytesReceived    *prometheus.GaugeVec
	clientLifetimeSent     *prometheus.GaugeVec
	clientLifetimeReceived *prometheus.GaugeVec
	clientCertExpire       *prometheus.GaugeVec
	clientsMu              sync.Mutex // serializes the reset and refill of the per-client gauges

	usageStoreErrors *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clientsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clients_total",
			Help: "Client certificates in the PKI index",
		}),
		clientsRevoked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clients_revoked",
			Help: "Revoked client certificates",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clients_connected",
			Help: "Clients present in the OpenVPN status log",
		}),
		serverUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "server_up",
			Help: "1 when the OpenVPN service is active",
		}),
		clientBytesSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_session_bytes_sent",
			Help: "Bytes sent to a client in its current session",
		}, []string{"client"}),
		clientBytesReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_session_bytes_received",
			Help: "Bytes received from a client in its current session",
		}, []string{"client"}),
		clientLifetimeSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_lifetime_bytes_sent",
			Help: "Bytes sent to a client across all sessions",
		}, []string{"client"}),
		clientLifetimeReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_lifetime_bytes_received",
			Help: "Bytes received from a client across all sessions",
		}, []string{"client"}),
		clientCertExpire: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "client_certificate_expire_days",
			Help: "Days until a client certificate expires",
		}, []string{"client"}),
		usageStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "usage_store_errors_total",
			Help: "Failed reads or writes of the usage store",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.clientsTotal,
		m.clientsRevoked,
		m.clientsConnected,
		m.serverUp,
		m.clientBytesSent,
		m.clientBytesReceived,
		m.clientLifetimeSent,
		m.clientLifetimeReceived,
		m.clientCertExpire,
		m.usageStoreErrors,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveServer records the server-wide snapshot
func (m *Metrics) ObserveServer(snapshot report.ServerSnapshot) {
	m.clientsTotal.Set(float64(snapshot.TotalClients))
	m.clientsRevoked.Set(float64(snapshot.RevokedClients))
	m.clientsConnected.Set(float64(snapshot.ConnectedClients))
	if snapshot.ServerRunning {
		m.serverUp.Set(1)
	} else {
		m.serverUp.Set(0)
	}
}

// ObserveClients replaces the per-client gauges with the given reports
func (m *Metrics) ObserveClients(reports []report.ClientReport, expiries map[string]time.Time, now time.Time) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	// Deleted clients must disappear from the exposition
	m.clientBytesSent.Reset()
	m.clientBytesReceived.Reset()
	m.clientLifetimeSent.Reset()
	m.clientLifetimeReceived.Reset()
	m.clientCertExpire.Reset()

	for _, r := range reports {
		m.clientLifetimeSent.WithLabelValues(r.Name).Set(float64(r.TotalSent))
		m.clientLifetimeReceived.WithLabelValues(r.Name).Set(float64(r.TotalReceived))
		if r.Connected {
			m.clientBytesSent.WithLabelValues(r.Name).Set(float64(r.BytesSent))
			m.clientBytesReceived.WithLabelValues(r.Name).Set(float64(r.BytesReceived))
		}
		if exp, ok := expiries[r.Name]; ok && !exp.IsZero() {
			m.clientCertExpire.WithLabelValues(r.Name).Set(exp.Sub(now).Hours() / 24)
		}
	}
}

// UsageStoreError counts a failed usage store operation ("load" or "save")
func (m *Metrics) UsageStoreError(op string) {
	m.usageStoreErrors.WithLabelValues(op).Inc()
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Package metrics registers Prometheus metrics for the messaging core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	EventsReceived    *prometheus.CounterVec
	EventsSent        *prometheus.CounterVec
	BroadcastFanout   prometheus.Histogram
	WebSocketErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "websocket_connections_total",
				Help: "Total number of accepted WebSocket connections",
			}),
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "websocket_active_connections",
				Help: "Currently open WebSocket connections",
			}),
			EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "websocket_events_received_total",
				Help: "Client-to-server events received, by event type",
			}, []string{"type"}),
			EventsSent: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "websocket_events_sent_total",
				Help: "Server-to-client events delivered, by event type",
			}, []string{"type"}),
			BroadcastFanout: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "websocket_broadcast_fanout_size",
				Help:    "Number of connections reached per room broadcast",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			}),
			WebSocketErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "websocket_errors_total",
				Help: "WebSocket errors, by error code",
			}, []string{"code"}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),
			CacheHitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Cache hits, by cache name",
			}, []string{"cache"}),
			CacheMissesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Cache misses, by cache name",
			}, []string{"cache"}),
		}
	})
	return instance
}

// Get returns the initialized metrics instance, or nil before Initialize.
func Get() *Metrics {
	return instance
}

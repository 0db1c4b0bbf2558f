// Package metrics exposes Prometheus metrics for ingestion and solving.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the swap routing system.
type Metrics struct {
	// Event metrics
	EventsReceived *prometheus.CounterVec

	// Solver metrics
	SolveLatency     prometheus.Histogram
	RoutesConsidered prometheus.Histogram
	SolvesInfeasible prometheus.Counter
	PlansCompiled    prometheus.Counter

	// System metrics
	PoolsTracked    prometheus.Gauge
	WebSocketStatus prometheus.Gauge
	LastBlockSeen   prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_events_received_total",
				Help: "Total number of pool events received by type",
			},
			[]string{"type"},
		),
		SolveLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swap_solve_latency_seconds",
				Help:    "Time to solve an order into allocations",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
			},
		),
		RoutesConsidered: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swap_routes_considered",
				Help:    "Candidate routes fed into each solve",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
			},
		),
		SolvesInfeasible: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swap_solves_infeasible_total",
				Help: "Total number of solves that found no feasible flow",
			},
		),
		PlansCompiled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swap_plans_compiled_total",
				Help: "Total number of router plans compiled",
			},
		),
		PoolsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swap_pools_tracked",
				Help: "Number of pools currently being tracked",
			},
		),
		WebSocketStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swap_websocket_connected",
				Help: "WebSocket connection status (1=connected, 0=disconnected)",
			},
		),
		LastBlockSeen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swap_last_block_seen",
				Help: "Highest block number an applied event came from",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.EventsReceived,
		m.SolveLatency,
		m.RoutesConsidered,
		m.SolvesInfeasible,
		m.PlansCompiled,
		m.PoolsTracked,
		m.WebSocketStatus,
		m.LastBlockSeen,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordEventReceived increments the event counter for the given type.
func (m *Metrics) RecordEventReceived(eventType string) {
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordSolve records one solve's latency and candidate route count.
func (m *Metrics) RecordSolve(d time.Duration, routes int) {
	m.SolveLatency.Observe(d.Seconds())
	m.RoutesConsidered.Observe(float64(routes))
}

// RecordInfeasibleSolve increments the infeasible solve counter.
func (m *Metrics) RecordInfeasibleSolve() {
	m.SolvesInfeasible.Inc()
}

// RecordPlanCompiled increments the compiled plan counter.
func (m *Metrics) RecordPlanCompiled() {
	m.PlansCompiled.Inc()
}

// SetTrackedPools sets the current number of tracked pools.
func (m *Metrics) SetTrackedPools(count int) {
	m.PoolsTracked.Set(float64(count))
}

// SetWebSocketConnected sets the WebSocket connection status.
func (m *Metrics) SetWebSocketConnected(connected bool) {
	if connected {
		m.WebSocketStatus.Set(1)
	} else {
		m.WebSocketStatus.Set(0)
	}
}

// SetLastBlock sets the highest block an applied event came from.
func (m *Metrics) SetLastBlock(block uint64) {
	m.LastBlockSeen.Set(float64(block))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters and gauges exposed by the core. Label values are the
// machine-readable reason/priority codes, never free text.
var (
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leverbot_api_calls_total",
		Help: "Exchange API calls by priority and outcome.",
	}, []string{"priority", "outcome"})

	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leverbot_api_retries_total",
		Help: "Retry attempts against the exchange.",
	})

	AdmissionFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leverbot_admission_failopen_total",
		Help: "Normal-priority calls that proceeded via the fail-open ceiling.",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leverbot_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leverbot_open_positions",
		Help: "Number of currently open positions.",
	})

	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leverbot_trades_rejected_total",
		Help: "Candidate trades rejected, by reason code.",
	}, []string{"reason"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leverbot_positions_closed_total",
		Help: "Positions closed, by reason code.",
	}, []string{"reason"})
)

// Serve exposes /metrics on addr. It never blocks the caller; listener errors
// surface on the returned channel.
func Serve(addr string) <-chan error {
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	return errCh
}

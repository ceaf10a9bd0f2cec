package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lobstermarket"

var (
	// Registry holds every LobsterMarket collector.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"handler", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"handler", "method"},
	)

	escrowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Escrow state transitions by ledger entry type.",
		},
		[]string{"entry_type"},
	)

	contractsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "contracts_opened_total",
			Help:      "Contracts created, by award path.",
		},
		[]string{"path"},
	)

	reviewsScreened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "reviews_screened_total",
			Help:      "Reviews evaluated by the fraud detector.",
		},
		[]string{"suspicious"},
	)

	fraudSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "signals_total",
			Help:      "Fraud heuristics that fired, by rule.",
		},
		[]string{"rule"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full reputation refresh runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	refreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "refresh_failures_total",
			Help:      "Reputation refresh runs that returned an error.",
		},
	)

	agentsScored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "agents_scored",
			Help:      "Active agents scored by the last refresh.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		escrowTransitions,
		contractsOpened,
		reviewsScreened,
		fraudSignals,
		refreshDuration,
		refreshFailures,
		agentsScored,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveEscrowTransition counts one committed escrow ledger entry.
func ObserveEscrowTransition(entryType string) {
	escrowTransitions.WithLabelValues(entryType).Inc()
}

// ObserveContractOpened counts a contract created through an offer or a battle.
func ObserveContractOpened(path string) {
	contractsOpened.WithLabelValues(path).Inc()
}

// ObserveReviewScreened records the outcome of one fraud check.
func ObserveReviewScreened(suspicious bool, rules []string) {
	reviewsScreened.WithLabelValues(strconv.FormatBool(suspicious)).Inc()
	for _, rule := range rules {
		fraudSignals.WithLabelValues(rule).Inc()
	}
}

// ObserveRefresh records a reputation refresh run.
func ObserveRefresh(duration time.Duration, agents int, err error) {
	refreshDuration.Observe(duration.Seconds())
	if err != nil {
		refreshFailures.Inc()
		return
	}
	agentsScored.Set(float64(agents))
}

// Handler exposes the registry in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

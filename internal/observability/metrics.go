package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics shared by both keepers. The service
// label distinguishes liquidator from settler.
type Metrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	AccountsScanned *prometheus.GaugeVec
	Actions         *prometheus.CounterVec
	ActionErrors    *prometheus.CounterVec
}

// NewMetrics registers all keeper metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_cycles_total",
			Help: "Completed poll cycles.",
		}, []string{"service"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keeper_cycle_duration_seconds",
			Help:    "Wall time of one poll-decide-dispatch cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"service"}),
		AccountsScanned: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_accounts_scanned",
			Help: "Accounts or settlement requests read in the last cycle.",
		}, []string{"service"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_actions_total",
			Help: "Dispatched actions by kind and result.",
		}, []string{"service", "kind", "result"}),
		ActionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_action_errors_total",
			Help: "Failed actions by error class.",
		}, []string{"service", "class"}),
	}
}

// ServeMetrics exposes /metrics for gatherer on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

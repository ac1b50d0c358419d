package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsBuilt counts built transaction plans, partitioned by operation.
	TransactionsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_transactions_built_total",
		Help: "Total number of transaction plans built",
	}, []string{"operation"})

	// TransactionFailures counts failed builds/submissions by error kind.
	TransactionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_transaction_failures_total",
		Help: "Total number of failed transaction builds or submissions",
	}, []string{"operation", "kind"})

	// ObligationsOpened counts open-obligation transactions submitted.
	ObligationsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_obligations_opened_total",
		Help: "Total number of open-obligation transactions",
	})

	// DuplicateObligationWarns counts detected duplicate-obligation risks.
	DuplicateObligationWarns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_duplicate_obligation_warnings_total",
		Help: "Detected duplicate-obligation conditions",
	})

	// MinBorrowResolutions counts minimum-borrow resolutions by source.
	MinBorrowResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_min_borrow_resolutions_total",
		Help: "Minimum-borrow resolutions partitioned by winning source",
	}, []string{"source"})

	// TwoStepFallbacksTotal counts price-update/mutation two-step fallbacks.
	TwoStepFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lending_two_step_fallbacks_total",
		Help: "Borrows split into a price-update transaction plus a skip-update transaction",
	})

	// UnlockSagas counts unlock-then-mutate sagas by outcome.
	UnlockSagas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lending_unlock_sagas_total",
		Help: "Unlock-then-repay/withdraw sagas partitioned by outcome",
	}, []string{"outcome"})

	// SDKCallDuration tracks sidecar SDK call latency by method.
	SDKCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lending_sdk_call_duration_seconds",
		Help:    "Lending SDK sidecar call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// PrometheusHandler returns the Prometheus metrics HTTP handler.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LenderMetrics tracks flash loans routed to each lender.
type LenderMetrics struct {
	Loans       *prometheus.CounterVec
	Volume      *prometheus.CounterVec
	Fees        *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Selections  *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	ActiveLoans prometheus.Gauge
}

// NewLenderMetrics creates the lender metric set and registers it with reg.
// A nil reg leaves the metrics unregistered.
func NewLenderMetrics(namespace string, reg prometheus.Registerer) *LenderMetrics {
	factory := promauto.With(reg)
	return &LenderMetrics{
		Loans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_loans_total",
			Help:      "Number of settled flash loans",
		}, []string{"lender"}),
		Volume: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_volume_total",
			Help:      "Principal lent in settled flash loans, in base units",
		}, []string{"lender"}),
		Fees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_fees_total",
			Help:      "Fees collected by settled flash loans, in base units",
		}, []string{"lender"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_errors_total",
			Help:      "Number of aborted flash loans by cause",
		}, []string{"lender", "cause"}),
		Selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flashloan_selections_total",
			Help:      "Number of times each lender was selected",
		}, []string{"lender"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flashloan_latency_seconds",
			Help:      "Time spent inside flash loan calls",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12),
		}, []string{"lender"}),
		ActiveLoans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flashloan_active_loans",
			Help:      "Flash loans currently on the call stack",
		}),
	}
}

// ObserveLoan records a settled loan.
func (m *LenderMetrics) ObserveLoan(lender string, amount, fee *big.Int) {
	m.Loans.WithLabelValues(lender).Inc()
	m.Volume.WithLabelValues(lender).Add(toFloat(amount))
	m.Fees.WithLabelValues(lender).Add(toFloat(fee))
}

// ObserveError records an aborted loan.
func (m *LenderMetrics) ObserveError(lender, cause string) {
	m.Errors.WithLabelValues(lender, cause).Inc()
}

func toFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

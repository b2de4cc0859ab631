// Package metrics exposes Prometheus metrics for charge limit operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ResultOK labels an operation that succeeded.
const ResultOK = "ok"

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwlimit_operations_total",
		Help: "Charge limit operations by op (query, set, toggle) and result (ok, busy or the error kind)",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fwlimit_operation_duration_seconds",
		Help:    "Time spent in charge limit operations, including framework_tool runs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	chargeLimit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fwlimit_charge_limit_percent",
		Help: "Charge limit last confirmed by framework_tool",
	})
)

// RecordOperation counts a finished operation. Rejected operations never
// ran, so they pass a zero duration and are left out of the histogram.
func RecordOperation(op, result string, d time.Duration) {
	operations.WithLabelValues(op, result).Inc()
	if d > 0 {
		operationDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// SetChargeLimit records the confirmed limit.
func SetChargeLimit(percent int) {
	chargeLimit.Set(float64(percent))
}

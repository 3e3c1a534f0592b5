package chromeprocessor

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsTotal *prometheus.CounterVec
	writeErrors  prometheus.Counter
)

func init() {
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrome_trace_records_total",
			Help: "A counter of entries written to the chrome trace file.",
		},
		[]string{"kind"},
	)

	writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chrome_trace_write_errors_total",
			Help: "A counter of failures creating or writing the chrome trace file.",
		},
	)

	prometheus.MustRegister(recordsTotal, writeErrors)
}

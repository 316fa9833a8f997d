package sandbox

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the executors. A nil *Metrics
// records nothing.
type Metrics struct {
	executions     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	consoleEntries *prometheus.CounterVec
	programCache   *prometheus.CounterVec
	busyRejections prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_executions_total",
				Help: "Total number of code executions",
			},
			[]string{"language", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_execution_duration_ms",
				Help:    "Execution duration in milliseconds",
				Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"language"},
		),
		consoleEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_console_entries_total",
				Help: "Console calls captured from submitted code",
			},
			[]string{"level"},
		),
		programCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_program_cache_total",
				Help: "Compiled program cache lookups",
			},
			[]string{"result"},
		),
		busyRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_busy_rejections_total",
				Help: "Executions rejected because another one was in flight",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.executions, m.duration, m.consoleEntries, m.programCache, m.busyRejections} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) observe(r ExecutionResult) {
	if m == nil {
		return
	}
	status := "success"
	if !r.Success {
		status = string(r.ErrorKind)
	}
	m.executions.WithLabelValues(string(r.Language), status).Inc()
	m.duration.WithLabelValues(string(r.Language)).Observe(float64(r.ExecutionTimeMs))
}

func (m *Metrics) console(level Level) {
	if m == nil {
		return
	}
	m.consoleEntries.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) cache(result string) {
	if m == nil {
		return
	}
	m.programCache.WithLabelValues(result).Inc()
}

func (m *Metrics) busy() {
	if m == nil {
		return
	}
	m.busyRejections.Inc()
}

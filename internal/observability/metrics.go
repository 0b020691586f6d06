package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_http_requests_total",
			Help: "HTTP requests by method, matched route and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportgen_http_request_duration_seconds",
			Help:    "HTTP request latency by route. Report generation includes the model call.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportgen_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	guardrailVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_guardrail_verdicts_total",
			Help: "Guardrail verdicts by checked source and decision.",
		},
		[]string{"source", "decision"},
	)
	pipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_pipeline_outcomes_total",
			Help: "Report pipeline outcomes by status and last stage reached.",
		},
		[]string{"status", "stage"},
	)
	modelInvocationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportgen_model_invocation_seconds",
			Help:    "Latency of generative model invocations.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider", "result"},
	)
	queryRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportgen_query_rows",
			Help:    "Rows returned by executed report queries.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
	)
	archiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportgen_archive_writes_total",
			Help: "Report archive uploads by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpInFlight,
		guardrailVerdictsTotal,
		pipelineOutcomesTotal,
		modelInvocationSeconds,
		queryRows,
		archiveWritesTotal,
	)
}

func ObserveGuardrailVerdict(source, decision string) {
	guardrailVerdictsTotal.WithLabelValues(source, decision).Inc()
}

func ObservePipelineOutcome(status, stage string) {
	pipelineOutcomesTotal.WithLabelValues(status, stage).Inc()
}

func ObserveModelInvocation(provider string, elapsed time.Duration, err error) {
	modelInvocationSeconds.WithLabelValues(provider, resultLabel(err)).Observe(elapsed.Seconds())
}

func ObserveQueryRows(rows int) {
	queryRows.Observe(float64(max(rows, 0)))
}

func ObserveArchiveWrite(err error) {
	archiveWritesTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

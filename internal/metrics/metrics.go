package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskapi_predictions_total",
		Help: "Predictions served, by domain and risk label.",
	}, []string{"domain", "label"})

	PredictionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskapi_prediction_errors_total",
		Help: "Prediction requests that did not produce a result, by reason.",
	}, []string{"domain", "reason"})

	ExplanationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskapi_explanation_failures_total",
		Help: "Explanation requests that fell back to the error sentinel.",
	}, []string{"domain"})

	AnalyticsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskapi_analytics_requests_total",
		Help: "Analytics requests by result.",
	}, []string{"result"})

	ExternalCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskapi_external_call_seconds",
		Help:    "Latency of calls to external services.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"service"})
)

// ObserveSince records the time elapsed since start for service.
func ObserveSince(service string, start time.Time) {
	ExternalCallSeconds.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

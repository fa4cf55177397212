// Package monitoring exposes Prometheus metrics and the live training
// progress hub.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exovision"

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})

	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Predictions served by model, disposition and source.",
	}, []string{"model", "disposition", "source"})

	predictionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prediction_errors_total",
		Help:      "Rejected prediction requests by reason.",
	}, []string{"reason"})

	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "training_runs_total",
		Help:      "Training runs by outcome.",
	}, []string{"status"})

	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "training_duration_seconds",
		Help:      "Wall time of successful training runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	trainingScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_balanced_accuracy",
		Help:      "Held-out balanced accuracy of the last trained model.",
	}, []string{"model"})

	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_requests_total",
		Help:      "Chat relay requests by outcome.",
	}, []string{"status"})

	modelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "models_loaded",
		Help:      "Number of models in the artifact store.",
	})
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route, method string, code int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func RecordPrediction(model, disposition, source string) {
	predictionsTotal.WithLabelValues(model, disposition, source).Inc()
}

func RecordPredictionError(reason string) {
	predictionErrors.WithLabelValues(reason).Inc()
}

// RecordTraining counts a run. Duration and score are only recorded for
// successful runs.
func RecordTraining(model string, err error, elapsed time.Duration, balancedAccuracy float64) {
	if err != nil {
		trainingRuns.WithLabelValues("failed").Inc()
		return
	}
	trainingRuns.WithLabelValues("succeeded").Inc()
	trainingDuration.Observe(elapsed.Seconds())
	trainingScore.WithLabelValues(model).Set(balancedAccuracy)
}

func RecordChat(status string) {
	chatRequests.WithLabelValues(status).Inc()
}

func SetModelsLoaded(n int) {
	modelsLoaded.Set(float64(n))
}

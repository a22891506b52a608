package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "documents_total",
			Help:      "Documents processed by input class and terminal state",
		},
		[]string{"input_class", "state"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	engineAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "engine_attempts_total",
			Help:      "Layout engine attempts by engine and result",
		},
		[]string{"engine", "result"},
	)

	engineFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "engine_fallbacks_total",
			Help:      "Times the layout stage fell through to the next engine",
		},
	)

	enrichRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "enrichment_requests_total",
			Help:      "Vision enrichment calls by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	enrichLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipeline",
			Name:      "enrichment_duration_seconds",
			Help:      "Duration of vision enrichment calls by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	parseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "json_parse_total",
			Help:      "LLM response parse outcomes by succeeding stage (strict, fenced, braces, failed)",
		},
		[]string{"stage"},
	)

	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "extractions_total",
			Help:      "Structured extraction calls by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by provider, model and action",
		},
		[]string{"provider", "model", "action"},
	)

	artifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "artifacts_total",
			Help:      "Image artifacts materialised by origin",
		},
		[]string{"origin"},
	)

	blobBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "blob_bytes_written_total",
			Help:      "Bytes written to the blob store",
		},
	)

	embeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipeline",
			Name:      "embeddings_total",
			Help:      "Embedding generations by result",
		},
		[]string{"result"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(documentsTotal, stageDuration, engineAttempts, engineFallbacks,
		enrichRequests, enrichLatency, parseOutcomes, extractions, breakerEvents,
		artifactsTotal, blobBytes, embeddingsTotal)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncDocument(inputClass, state string) {
	documentsTotal.WithLabelValues(inputClass, state).Inc()
}

func ObserveStage(stage string, dur time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

func IncEngineAttempt(engine, result string) {
	engineAttempts.WithLabelValues(engine, result).Inc()
}

func IncEngineFallback() { engineFallbacks.Inc() }

func ObserveEnrichment(provider, model, result string, dur time.Duration) {
	enrichRequests.WithLabelValues(provider, model, result).Inc()
	enrichLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncParseOutcome(stage string) { parseOutcomes.WithLabelValues(stage).Inc() }

func IncExtraction(provider, model, result string) {
	extractions.WithLabelValues(provider, model, result).Inc()
}

func BreakerOpened(provider, model string) {
	breakerEvents.WithLabelValues(provider, model, "opened").Inc()
}

func BreakerClosed(provider, model string) {
	breakerEvents.WithLabelValues(provider, model, "closed").Inc()
}

func IncArtifact(origin string) { artifactsTotal.WithLabelValues(origin).Inc() }

func AddBlobBytes(n int) { blobBytes.Add(float64(n)) }

func IncEmbedding(result string) { embeddingsTotal.WithLabelValues(result).Inc() }

package metrics

import (
	"fmt"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	// Budget metrics
	BudgetChecksTotal   *prometheus.CounterVec
	BudgetDenialsTotal  *prometheus.CounterVec
	BudgetUnitsConsumed *prometheus.CounterVec
	BudgetRemaining     *prometheus.GaugeVec

	// RAG metrics
	EmbeddingsStored   *prometheus.CounterVec
	SimilaritySearches prometheus.Counter
	DuplicatesDetected prometheus.Counter
	FeedbackEntries    *prometheus.CounterVec

	// Pipeline step metrics
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec
	StepRuns     *prometheus.CounterVec

	// Gemini metrics
	GeminiRequests *prometheus.CounterVec
	GeminiErrors   *prometheus.CounterVec
	GeminiLatency  *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			BudgetChecksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_budget_checks_total",
					Help: "Total number of budget checks",
				},
				[]string{"platform", "operation"},
			),
			BudgetDenialsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_budget_denials_total",
					Help: "Total number of denied budget checks",
				},
				[]string{"platform", "operation"},
			),
			BudgetUnitsConsumed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_budget_units_consumed_total",
					Help: "Total budget units consumed",
				},
				[]string{"platform", "operation"},
			),
			BudgetRemaining: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "qanat_budget_remaining_units",
					Help: "Budget units remaining in the current ISO week",
				},
				[]string{"platform"},
			),
			EmbeddingsStored: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_rag_embeddings_stored_total",
					Help: "Total embedding records stored",
				},
				[]string{"source_type"},
			),
			SimilaritySearches: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "qanat_rag_searches_total",
					Help: "Total similarity searches executed",
				},
			),
			DuplicatesDetected: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "qanat_rag_duplicates_detected_total",
					Help: "Total near-duplicate detections",
				},
			),
			FeedbackEntries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_feedback_entries_total",
					Help: "Total feedback entries stored",
				},
				[]string{"feedback_type"},
			),
			StepDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "qanat_step_duration_seconds",
					Help:    "Duration of pipeline steps in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"step", "platform", "success"},
			),
			StepErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_step_errors_total",
					Help: "Total pipeline step failures",
				},
				[]string{"step", "platform"},
			),
			StepRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_step_runs_total",
					Help: "Total pipeline step executions",
				},
				[]string{"step", "platform"},
			),
			GeminiRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_gemini_requests_total",
					Help: "Total Gemini API requests",
				},
				[]string{"kind"},
			),
			GeminiErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "qanat_gemini_errors_total",
					Help: "Total Gemini API errors",
				},
				[]string{"kind"},
			),
			GeminiLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "qanat_gemini_latency_seconds",
					Help:    "Gemini API request latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
		}
	})
	return sharedMetrics
}

// Push sends the default registry to a Pushgateway. Pipeline steps are
// short-lived processes, so scrape-based collection would miss them; each
// step pushes once on exit. A missing gateway URL disables the push.
func Push(gatewayURL, job, platform string) error {
	if gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, job).
		Grouping("platform", platform).
		Gatherer(prometheus.DefaultGatherer).
		Push()
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	log.Printf("[Metrics] pushed metrics to %s (job=%s platform=%s)", gatewayURL, job, platform)
	return nil
}

// Package metrics exposes triage counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbaille/triage/internal/domain"
)

const namespace = "triage"

// Collector holds all Prometheus metrics for the application. Each collector
// owns its registry, so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Runs           *prometheus.CounterVec
	TasksProcessed prometheus.Counter
	LabelsApplied  *prometheus.CounterVec
	LinksEnriched  prometheus.Counter
	SectionMoves   prometheus.Counter
	TaskFailures   *prometheus.CounterVec
	RerankOutcomes *prometheus.CounterVec
	LLMCost        prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// NewCollector creates and registers every metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs by command.",
		}, []string{"command"}),
		TasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Tasks examined by runs.",
		}),
		LabelsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labels_applied_total",
			Help:      "Labels added to tasks, by the stage that produced them.",
		}, []string{"source"}),
		LinksEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_enriched_total",
			Help:      "Plain URL tasks rewritten with their page title.",
		}),
		SectionMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "section_moves_total",
			Help:      "Tasks moved into a section.",
		}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Per-task failures by stage.",
		}, []string{"stage"}),
		RerankOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_outcomes_total",
			Help:      "Ranked tasks by how their final score was decided.",
		}, []string{"source"}),
		LLMCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated language model spend in USD.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	c.registry.MustRegister(
		c.Runs, c.TasksProcessed, c.LabelsApplied, c.LinksEnriched, c.SectionMoves,
		c.TaskFailures, c.RerankOutcomes, c.LLMCost, c.HTTPRequests, c.HTTPDuration,
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordLabels counts applied labels by source.
func (c *Collector) RecordLabels(res *domain.LabelingResult) {
	sources := res.Sources()
	for _, l := range res.LabelsToAdd {
		src := string(sources[l])
		if src == "" {
			src = "unknown"
		}
		c.LabelsApplied.WithLabelValues(src).Inc()
	}
}

// RecordRanking counts re-rank outcomes and their cost.
func (c *Collector) RecordRanking(ranked []domain.EnhancedScoredTask) {
	for _, et := range ranked {
		c.RerankOutcomes.WithLabelValues(string(et.Source)).Inc()
		if et.Cost > 0 {
			c.LLMCost.Add(et.Cost)
		}
	}
}

// RecordRun adds a finished run summary.
func (c *Collector) RecordRun(command string, sum domain.RunSummary) {
	c.Runs.WithLabelValues(command).Inc()
	c.TasksProcessed.Add(float64(sum.Processed))
	c.LinksEnriched.Add(float64(sum.Enriched))
	c.SectionMoves.Add(float64(sum.Moved))
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voidwire_runs_total",
		Help: "Pipeline runs by terminal status.",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voidwire_stage_duration_seconds",
		Help:    "Wall-clock duration of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	stageDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voidwire_stage_degraded_total",
		Help: "Contained stage degradations (sky-only, missing vectors, empty snapshot, fallback artifact).",
	}, []string{"stage"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voidwire_llm_tokens_total",
		Help: "Gateway token consumption by model and direction.",
	}, []string{"model", "direction"})

	llmCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voidwire_llm_cost_usd_total",
		Help: "Estimated gateway spend by model.",
	}, []string{"model"})
)

// modelCost holds per-1k token pricing for one model.
type modelCost struct {
	input  float64
	output float64
}

// Telemetry records pipeline and gateway metrics plus a running cost
// estimate, mirroring what the ops server exposes on /metrics.
type Telemetry struct {
	logger *log.Logger

	mu        sync.RWMutex
	pricing   map[string]modelCost
	totalCost float64
}

// NewTelemetry builds the telemetry sink, deriving model pricing from the
// LLM configuration.
func NewTelemetry(cfg config.LLMConfig, logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	pricing := make(map[string]modelCost)
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			name := m.APIName
			if name == "" {
				name = m.Name
			}
			pricing[name] = modelCost{input: m.CostPer1K, output: m.CostPer1KOutput}
		}
	}
	return &Telemetry{logger: logger, pricing: pricing}
}

// RecordRun counts a run reaching a terminal status.
func (t *Telemetry) RecordRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records a stage's duration.
func (t *Telemetry) ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDegradation counts a contained degradation in the named stage.
func (t *Telemetry) RecordDegradation(stage string) {
	stageDegraded.WithLabelValues(stage).Inc()
}

// RecordLLMUsage accumulates token counts and estimated spend for one
// gateway call.
func (t *Telemetry) RecordLLMUsage(model string, promptTokens, completionTokens int64) {
	llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))

	t.mu.Lock()
	defer t.mu.Unlock()
	price, ok := t.pricing[model]
	if !ok {
		return
	}
	cost := float64(promptTokens)/1000*price.input + float64(completionTokens)/1000*price.output
	t.totalCost += cost
	llmCost.WithLabelValues(model).Add(cost)
}

// TotalCost returns the process-lifetime estimated gateway spend.
func (t *Telemetry) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

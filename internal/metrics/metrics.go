// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/directory-cli/internal/orchestrator"
)

const namespace = "directory"

var (
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Step executions by terminal status.",
	}, []string{"step", "status"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Wall time of executed steps, retries included.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"step"})

	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_retries_total",
		Help:      "Step retries by service and error kind.",
	}, []string{"step", "service", "kind"})

	StepCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_cost_usd_total",
		Help:      "Estimated external spend per step.",
	}, []string{"step"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Finished jobs by status and reason.",
	}, []string{"entity_type", "status", "reason"})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Jobs claimed by the local runner.",
	})

	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Extraction requests by admission result.",
	}, []string{"result"})

	BulkItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_items_total",
		Help:      "Bulk run items by outcome.",
	}, []string{"outcome"})

	Orphaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_total",
		Help:      "Processing records failed by the reconciliation sweep.",
	})

	WindowFailRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_fail_rate",
		Help:      "Failed share of finished extractions in the monitoring lookback window.",
	})

	WindowCostUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_cost_usd",
		Help:      "Spend on extractions updated in the monitoring lookback window.",
	})

	OpenCircuits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_circuits",
		Help:      "Upstream services whose circuit breaker is open.",
	})
)

// RecordWindow publishes the latest monitoring snapshot figures.
func RecordWindow(failRate, costUSD float64, openCircuits int) {
	WindowFailRate.Set(failRate)
	WindowCostUSD.Set(costUSD)
	OpenCircuits.Set(float64(openCircuits))
}

// Subscribe records loop events from bus.
func Subscribe(bus *orchestrator.Bus) {
	bus.Subscribe(Observe)
}

// Observe records a single loop event.
func Observe(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventStepCompleted:
		StepsTotal.WithLabelValues(ev.Step, "completed").Inc()
		StepDuration.WithLabelValues(ev.Step).Observe(msToSeconds(ev.Metrics.ElapsedMs))
		if ev.Metrics.CostUSD > 0 {
			StepCostUSD.WithLabelValues(ev.Step).Add(ev.Metrics.CostUSD)
		}
	case orchestrator.EventStepFailed:
		StepsTotal.WithLabelValues(ev.Step, "failed").Inc()
		StepDuration.WithLabelValues(ev.Step).Observe(msToSeconds(ev.Metrics.ElapsedMs))
	case orchestrator.EventStepSkipped:
		StepsTotal.WithLabelValues(ev.Step, "skipped").Inc()
	case orchestrator.EventStepRetried:
		StepRetries.WithLabelValues(ev.Step, ev.Service, string(ev.ErrKind)).Inc()
	case orchestrator.EventJobFinished:
		JobsTotal.WithLabelValues(string(ev.EntityType), string(ev.Status), ev.Reason).Inc()
	}
}

func msToSeconds(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}

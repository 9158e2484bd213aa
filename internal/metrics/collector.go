// internal/metrics/collector.go
// Package metrics exposes engine counters and histograms to Prometheus. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "atlas"

// Collector owns a private registry and the engine's collectors.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	sessionsStarted prometheus.Counter
	sessionsTotal   *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	healsTotal      *prometheus.CounterVec
	challengesTotal *prometheus.CounterVec
	policyDecisions *prometheus.CounterVec
	oracleDuration  *prometheus.HistogramVec
	oracleRetries   prometheus.Counter
	activeSessions  prometheus.Gauge
	eventsPruned    prometheus.Counter
}

// NewCollector builds a collector on a fresh registry.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{registry: reg, logger: logger.Named("metrics")}

	c.sessionsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Sessions created, counted once regardless of resumes.",
	})

	c.sessionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Sessions that left RUNNING, by resulting status.",
	}, []string{"status"})

	c.stepsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Recorded steps by action type and outcome.",
	}, []string{"action", "outcome"})

	c.stepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Wall time of one observe-reason-act step.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"action"})

	c.healsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selector_heals_total",
		Help:      "Selector healing attempts by action and result.",
	}, []string{"action", "result"})

	c.challengesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "challenges_total",
		Help:      "Detected challenges by kind and resolution result.",
	}, []string{"kind", "result"})

	c.policyDecisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_decisions_total",
		Help:      "Safety validator verdicts.",
	}, []string{"verdict"})

	c.oracleDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_request_duration_seconds",
		Help:      "Oracle call latency by operation and result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})

	c.oracleRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_schema_retries_total",
		Help:      "Oracle responses rejected as invalid action JSON.",
	})

	c.activeSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions whose loop is currently running.",
	})

	c.eventsPruned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "network_events_pruned_total",
		Help:      "Network events dropped by retention.",
	})

	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) SessionFinished(status string) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
}

// LoopEntered and LoopExited bracket one Run, including each resume.
func (c *Collector) LoopEntered() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) LoopExited() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// StepRecorded counts one step. action is "none" when the step had no action.
func (c *Collector) StepRecorded(action string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.stepsTotal.WithLabelValues(action, outcome).Inc()
	c.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (c *Collector) HealAttempt(action string, healed bool) {
	if c == nil {
		return
	}
	result := "healed"
	if !healed {
		result = "exhausted"
	}
	c.healsTotal.WithLabelValues(action, result).Inc()
}

func (c *Collector) ChallengeHandled(kind string, resolved bool) {
	if c == nil {
		return
	}
	result := "resolved"
	if !resolved {
		result = "escalated"
	}
	c.challengesTotal.WithLabelValues(kind, result).Inc()
}

func (c *Collector) PolicyDecision(verdict string) {
	if c == nil {
		return
	}
	c.policyDecisions.WithLabelValues(verdict).Inc()
}

func (c *Collector) OracleCall(operation string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.oracleDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

func (c *Collector) OracleSchemaRetry() {
	if c == nil {
		return
	}
	c.oracleRetries.Inc()
}

func (c *Collector) EventsPruned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsPruned.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("Serving metrics.", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

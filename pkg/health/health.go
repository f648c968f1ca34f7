// Package health runs the self-healing control loop: it periodically reads
// aggregate statistics from the cache, the performance monitor, and the
// breaker registry, classifies each subsystem, and triggers corrective
// action when a subsystem crosses its critical threshold. It has no
// user-visible surface beyond the snapshot exposed to the ops API.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bulwarklabs/bulwark/internal/cache"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/monitor"
	"github.com/bulwarklabs/bulwark/pkg/resilience"
)

// Status represents the classification of a subsystem
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// SubsystemReport is the classification of one subsystem at one evaluation.
type SubsystemReport struct {
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Acted   bool              `json:"acted,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Evaluation is a full classification pass over all subsystems.
type Evaluation struct {
	Timestamp  time.Time                  `json:"timestamp"`
	Overall    Status                     `json:"overall"`
	Subsystems map[string]SubsystemReport `json:"subsystems"`
}

// Config holds evaluator configuration
type Config struct {
	Interval            time.Duration `json:"interval"`
	HitRateWarning      float64       `json:"hit_rate_warning"`
	HitRateCritical     float64       `json:"hit_rate_critical"`
	AvgDurationWarning  time.Duration `json:"avg_duration_warning"`
	AvgDurationCritical time.Duration `json:"avg_duration_critical"`
	// MinCacheSamples gates hit-rate classification until the cache has
	// seen enough lookups to make the ratio meaningful.
	MinCacheSamples int64         `json:"min_cache_samples"`
	TripSuspension  time.Duration `json:"trip_suspension"`
}

// DefaultConfig returns default evaluator configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:            30 * time.Second,
		HitRateWarning:      0.5,
		HitRateCritical:     0.3,
		AvgDurationWarning:  3 * time.Second,
		AvgDurationCritical: 5 * time.Second,
		MinCacheSamples:     10,
		TripSuspension:      2 * time.Minute,
	}
}

// Evaluator is the periodic control loop.
type Evaluator struct {
	cache    *cache.Cache
	monitor  *monitor.Monitor
	registry *resilience.Registry
	config   *Config
	logger   *logging.Logger
	alerts   AlertSink

	mu      sync.RWMutex
	last    Evaluation
	stopCh  chan struct{}
	running bool
}

// NewEvaluator creates an evaluator over the given subsystems. alerts may
// be nil, in which case alerts go to the log.
func NewEvaluator(c *cache.Cache, mon *monitor.Monitor, registry *resilience.Registry, config *Config, logger *logging.Logger, alerts AlertSink) *Evaluator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if alerts == nil {
		alerts = NewLogSink(logger)
	}

	return &Evaluator{
		cache:    c,
		monitor:  mon,
		registry: registry,
		config:   config,
		logger:   logger,
		alerts:   alerts,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic evaluation loop.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("health evaluator is already running")
	}
	e.running = true
	e.mu.Unlock()

	go e.loop(ctx)
	return nil
}

// Stop stops the evaluation loop.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	close(e.stopCh)
	e.running = false
}

func (e *Evaluator) loop(ctx context.Context) {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs a single classification pass, triggers corrective
// actions on critical subsystems, and returns the evaluation.
func (e *Evaluator) EvaluateOnce(ctx context.Context) Evaluation {
	eval := Evaluation{
		Timestamp:  time.Now(),
		Overall:    StatusHealthy,
		Subsystems: make(map[string]SubsystemReport),
	}

	eval.Subsystems["cache"] = e.evaluateCache(ctx)
	eval.Subsystems["monitor"] = e.evaluateMonitor(ctx)
	eval.Subsystems["breakers"] = e.evaluateBreakers(ctx)

	for _, report := range eval.Subsystems {
		if worse(report.Status, eval.Overall) {
			eval.Overall = report.Status
		}
	}

	e.mu.Lock()
	e.last = eval
	e.mu.Unlock()

	return eval
}

// Snapshot returns the most recent evaluation.
func (e *Evaluator) Snapshot() Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Evaluator) evaluateCache(ctx context.Context) SubsystemReport {
	if e.cache == nil {
		return SubsystemReport{Status: StatusHealthy, Message: "cache disabled"}
	}

	stats := e.cache.GetStats()
	samples := stats.Hits + stats.Misses

	report := SubsystemReport{
		Status: StatusHealthy,
		Detail: map[string]string{
			"hit_rate": fmt.Sprintf("%.2f", stats.HitRate),
			"samples":  fmt.Sprintf("%d", samples),
		},
	}

	if samples < e.config.MinCacheSamples {
		report.Message = "not enough lookups to classify"
		return report
	}

	switch {
	case stats.HitRate < e.config.HitRateCritical:
		report.Status = StatusCritical
		report.Message = fmt.Sprintf("hit rate %.2f below critical threshold %.2f", stats.HitRate, e.config.HitRateCritical)
		report.Acted = e.cache.Clear(ctx)

		e.alerts.Send(ctx, Alert{
			Severity:    SeverityCritical,
			Title:       "Cache hit rate critical, cache cleared",
			Description: report.Message,
			Source:      "cache",
		})
	case stats.HitRate < e.config.HitRateWarning:
		report.Status = StatusWarning
		report.Message = fmt.Sprintf("hit rate %.2f below warning threshold %.2f", stats.HitRate, e.config.HitRateWarning)

		e.alerts.Send(ctx, Alert{
			Severity:    SeverityWarning,
			Title:       "Cache hit rate degraded",
			Description: report.Message,
			Source:      "cache",
		})
	}

	return report
}

func (e *Evaluator) evaluateMonitor(ctx context.Context) SubsystemReport {
	if e.monitor == nil {
		return SubsystemReport{Status: StatusHealthy, Message: "monitor disabled"}
	}

	stats := e.monitor.GetStats()

	report := SubsystemReport{
		Status: StatusHealthy,
		Detail: map[string]string{
			"average_ms": fmt.Sprintf("%d", stats.AverageTime.Milliseconds()),
			"count":      fmt.Sprintf("%d", stats.Count),
		},
	}

	if stats.Count == 0 {
		report.Message = "no finished operations"
		return report
	}

	switch {
	case stats.AverageTime > e.config.AvgDurationCritical:
		report.Status = StatusCritical
		report.Message = fmt.Sprintf("average duration %s above critical threshold %s", stats.AverageTime, e.config.AvgDurationCritical)

		// Breaking on a systemically slow backend only amplifies the
		// problem on a constrained client; pause trips, let previously
		// tripped breakers probe again, and restart the aggregates.
		if e.registry != nil {
			e.registry.SuspendTrips(e.config.TripSuspension)
			e.registry.ResetAll()
		}
		e.monitor.Reset()
		report.Acted = true

		e.alerts.Send(ctx, Alert{
			Severity:    SeverityCritical,
			Title:       "Operation latency critical, monitor reset and breaker trips suspended",
			Description: report.Message,
			Source:      "monitor",
		})
	case stats.AverageTime > e.config.AvgDurationWarning:
		report.Status = StatusWarning
		report.Message = fmt.Sprintf("average duration %s above warning threshold %s", stats.AverageTime, e.config.AvgDurationWarning)

		e.alerts.Send(ctx, Alert{
			Severity:    SeverityWarning,
			Title:       "Operation latency degraded",
			Description: report.Message,
			Source:      "monitor",
		})
	}

	return report
}

func (e *Evaluator) evaluateBreakers(ctx context.Context) SubsystemReport {
	if e.registry == nil {
		return SubsystemReport{Status: StatusHealthy, Message: "registry disabled"}
	}

	statuses := e.registry.AllStatuses()
	open := 0
	for _, status := range statuses {
		if status.State == resilience.StateOpen.String() {
			open++
		}
	}

	report := SubsystemReport{
		Status: StatusHealthy,
		Detail: map[string]string{
			"total": fmt.Sprintf("%d", len(statuses)),
			"open":  fmt.Sprintf("%d", open),
		},
	}

	// Open breakers are the layer doing its job, not a fault of their own;
	// they only warn so operators can see which endpoints are failing.
	if open > 0 {
		report.Status = StatusWarning
		report.Message = fmt.Sprintf("%d of %d breakers open", open, len(statuses))
	}

	return report
}

func worse(a, b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

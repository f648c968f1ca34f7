// Package monitor provides named start/end instrumentation with running
// aggregate statistics.
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
)

// Record is one finished measurement.
type Record struct {
	Operation string            `json:"operation"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Duration  time.Duration     `json:"duration"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Stats is a snapshot of the running aggregates.
type Stats struct {
	Count          int64         `json:"count"`
	AverageTime    time.Duration `json:"average_time"`
	SlowOperations []Record      `json:"slow_operations"`
	FastOperations []Record      `json:"fast_operations"`
}

// Report is the exportable view of monitor state.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Stats       Stats     `json:"stats"`
	InFlight    []string  `json:"in_flight"`
}

// Config holds monitor configuration
type Config struct {
	SlowThreshold time.Duration `json:"slow_threshold"`
	FastThreshold time.Duration `json:"fast_threshold"`
	SlowListSize  int           `json:"slow_list_size"`
	FastListSize  int           `json:"fast_list_size"`
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		SlowThreshold: 5 * time.Second,
		FastThreshold: 1 * time.Second,
		SlowListSize:  20,
		FastListSize:  50,
	}
}

// Monitor tracks one in-flight record per operation name and maintains
// append-only aggregates over finished records.
type Monitor struct {
	config  *Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]*Record
	count    int64
	average  time.Duration
	slow     []Record
	fast     []Record
}

// New creates a performance monitor. metrics may be nil.
func New(config *Config, logger *logging.Logger, m *metrics.Metrics) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Monitor{
		config:   config,
		logger:   logger,
		metrics:  m,
		inFlight: make(map[string]*Record),
	}
}

// Start opens an in-flight record for name. Starting the same name again
// overwrites the unfinished record; callers running overlapping same-named
// measurements must distinguish the names themselves.
func (m *Monitor) Start(name string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.inFlight[name]; exists {
		m.logger.Debug("Overwriting unfinished measurement", "operation", name)
	}

	m.inFlight[name] = &Record{
		Operation: name,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
}

// End closes the in-flight record for name and returns its duration. If no
// matching Start exists it logs a warning and returns 0.
func (m *Monitor) End(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.inFlight[name]
	if !exists {
		m.logger.Warn("End called without matching Start", "operation", name)
		return 0
	}
	delete(m.inFlight, name)

	record.EndedAt = time.Now()
	record.Duration = record.EndedAt.Sub(record.StartedAt)

	if m.metrics != nil {
		m.metrics.RecordOperationDuration(name, record.Duration)
	}

	m.count++
	// avg' = (avg*(n-1) + duration) / n
	m.average = time.Duration((int64(m.average)*(m.count-1) + int64(record.Duration)) / m.count)

	if record.Duration > m.config.SlowThreshold {
		m.slow = appendBounded(m.slow, *record, m.config.SlowListSize)
		m.logger.Warn("Slow operation",
			"operation", name,
			"duration_ms", record.Duration.Milliseconds(),
		)
	} else if record.Duration < m.config.FastThreshold {
		m.fast = appendBounded(m.fast, *record, m.config.FastListSize)
	}

	return record.Duration
}

// appendBounded keeps the most recent limit records.
func appendBounded(list []Record, record Record, limit int) []Record {
	list = append(list, record)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// GetStats returns a read-only snapshot of the current aggregates.
func (m *Monitor) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Count:          m.count,
		AverageTime:    m.average,
		SlowOperations: append([]Record(nil), m.slow...),
		FastOperations: append([]Record(nil), m.fast...),
	}
}

// ExportReport returns a JSON snapshot of stats and in-flight operations.
func (m *Monitor) ExportReport() ([]byte, error) {
	m.mu.Lock()
	inFlight := make([]string, 0, len(m.inFlight))
	for name := range m.inFlight {
		inFlight = append(inFlight, name)
	}
	m.mu.Unlock()

	report := Report{
		GeneratedAt: time.Now(),
		Stats:       m.GetStats(),
		InFlight:    inFlight,
	}

	return json.MarshalIndent(report, "", "  ")
}

// Reset discards all aggregates and in-flight records.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight = make(map[string]*Record)
	m.count = 0
	m.average = 0
	m.slow = nil
	m.fast = nil

	m.logger.Info("Performance monitor reset")
}

package health

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bulwarklabs/bulwark/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityCritical - critical alerts that triggered corrective action
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert describes a threshold crossing or corrective action.
type Alert struct {
	ID          string            `json:"id"`
	Severity    AlertSeverity     `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Timestamp   time.Time         `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// AlertSink receives alerts emitted by the evaluator.
type AlertSink interface {
	Send(ctx context.Context, alert Alert)
}

// LogSink writes alerts to the structured log. It is the default sink.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log-backed alert sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogSink{logger: logger}
}

// Send logs the alert at a level matching its severity.
func (s *LogSink) Send(ctx context.Context, alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"description", alert.Description,
	}

	switch alert.Severity {
	case SeverityCritical:
		s.logger.Error(alert.Title, fields...)
	case SeverityWarning:
		s.logger.Warn(alert.Title, fields...)
	default:
		s.logger.Info(alert.Title, fields...)
	}
}

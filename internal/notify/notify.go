// Package notify delivers quality alerts. Every sink implements
// quality.AlertSink. Callers only log delivery failures.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/toolscout/catalogd/internal/domain"
)

// Sink delivers one alert payload.
type Sink interface {
	SendAlert(ctx context.Context, payload domain.AlertPayload) error
}

// LogSink writes alerts to the structured log. It is the fallback when no
// webhook or Kafka sink is configured.
type LogSink struct{}

func (LogSink) SendAlert(_ context.Context, p domain.AlertPayload) error {
	slog.Warn("quality: alert",
		"quality_score", p.QualityScore,
		"total_tools", p.TotalTools,
		"tools_with_errors", p.ToolsWithErrors,
		"mock_data_tools", p.MockDataTools,
		"suspicious_tools", p.SuspiciousTools,
		"reasons", p.Reasons,
	)
	return nil
}

// Multi fans an alert out to several sinks. All sinks are attempted; their
// errors are joined.
type Multi []Sink

func (m Multi) SendAlert(ctx context.Context, p domain.AlertPayload) error {
	var errs []error
	for i, s := range m {
		if err := s.SendAlert(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}

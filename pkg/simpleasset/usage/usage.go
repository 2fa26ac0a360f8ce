// Package usage delivers accounting events for external provider calls.
package usage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// LogRecorder writes usage events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a recorder that logs at info level.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordUsage(ctx context.Context, event simpleasset.UsageEvent) error {
	attrs := []any{
		"provider", event.Provider,
		"operation", event.Operation,
		"model", event.Model,
		"job_id", event.JobID,
		"duration", event.Duration,
		"cost", event.Cost,
		"success", event.Success,
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	r.logger.InfoContext(ctx, "provider usage", attrs...)
	return nil
}

// Multi fans an event out to every recorder and joins their errors.
type Multi []simpleasset.UsageRecorder

func (m Multi) RecordUsage(ctx context.Context, event simpleasset.UsageEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordUsage(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package simpleasset

import "context"

// NoopUsageRecorder discards usage events.
type NoopUsageRecorder struct{}

// NewNoopUsageRecorder creates a usage recorder that does nothing.
func NewNoopUsageRecorder() UsageRecorder {
	return &NoopUsageRecorder{}
}

// RecordUsage does nothing and returns nil
func (n *NoopUsageRecorder) RecordUsage(ctx context.Context, event UsageEvent) error {
	return nil
}

package usage

import (
	"context"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Event attributes for usage events.
const (
	EventType     = "com.simpleasset.usage.recorded"
	DefaultSource = "simple-asset/pipeline"
)

// CloudEventsRecorder posts each usage event as a CloudEvent in binary HTTP mode.
type CloudEventsRecorder struct {
	client cloudevents.Client
	source string
}

// NewCloudEventsRecorder creates a recorder that delivers to target.
func NewCloudEventsRecorder(target, source string) (*CloudEventsRecorder, error) {
	if target == "" {
		return nil, errors.New("usage events target is required")
	}
	client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return NewCloudEventsRecorderWithClient(client, source), nil
}

// NewCloudEventsRecorderWithClient wraps an existing CloudEvents client.
func NewCloudEventsRecorderWithClient(client cloudevents.Client, source string) *CloudEventsRecorder {
	if source == "" {
		source = DefaultSource
	}
	return &CloudEventsRecorder{client: client, source: source}
}

func (r *CloudEventsRecorder) RecordUsage(ctx context.Context, event simpleasset.UsageEvent) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetType(EventType)
	e.SetSource(r.source)
	e.SetSubject(string(event.Operation))
	e.SetTime(event.OccurredAt)
	e.SetExtension("provider", event.Provider)
	if err := e.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return fmt.Errorf("encode usage event: %w", err)
	}

	result := r.client.Send(ctx, e)
	if cloudevents.IsUndelivered(result) {
		return fmt.Errorf("usage event undelivered: %w", result)
	}
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("usage event rejected: %w", result)
	}
	return nil
}

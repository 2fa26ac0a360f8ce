package simpleasset

import "context"

// Hooks let callers observe pipeline runs without changing them. Hooks run
// synchronously on the pipeline's goroutine and should return quickly.
type Hooks struct {
	// OnStage is called when a run enters a stage, including StageDone and StageFailed.
	OnStage []StageHook

	// OnError is called for fatal failures and for absorbed ones
	// (KindLocationUnresolved, KindMetadataPropagationFailed).
	OnError []ErrorHook
}

// StageHook observes stage transitions.
type StageHook func(ctx context.Context, stage Stage, kind TransformKind)

// ErrorHook observes failures. fatal is false for failures the run absorbed.
type ErrorHook func(ctx context.Context, err *PipelineError, fatal bool)

func (h *Hooks) stage(ctx context.Context, stage Stage, kind TransformKind) {
	for _, hook := range h.OnStage {
		hook(ctx, stage, kind)
	}
}

func (h *Hooks) failure(ctx context.Context, err *PipelineError, fatal bool) {
	for _, hook := range h.OnError {
		hook(ctx, err, fatal)
	}
}

package simpleasset

import (
	"errors"
	"fmt"

	"github.com/tendant/simple-asset/pkg/simpleasset/imageops"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// Error types
var (
	// ErrUploadConflict indicates the target object key already exists.
	ErrUploadConflict = errors.New("object already exists")

	// ErrObjectNotFound indicates an object was not found in the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrRecordNotFound indicates no asset record exists for a public reference.
	// Callers should treat it as a normal state for fresh uploads.
	ErrRecordNotFound = errors.New("asset record not found")

	// ErrUnknownReference indicates a public reference a fetcher cannot resolve.
	ErrUnknownReference = errors.New("unknown public reference")

	// ErrSourceTooLarge indicates a source larger than the fetcher's limit.
	ErrSourceTooLarge = errors.New("source exceeds size limit")

	// ErrInvalidRequest indicates a malformed pipeline request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidScale indicates an upscale factor other than 2 or 4.
	ErrInvalidScale = errors.New("upscale factor must be 2 or 4")

	// ErrUpscalerNotConfigured indicates an upscale request without a provider.
	ErrUpscalerNotConfigured = errors.New("upscaler not configured")

	// ErrProviderTimeout indicates the external transform provider did not finish in time.
	ErrProviderTimeout = errors.New("transform provider timed out")

	// ErrProviderFailed indicates the external transform provider reported failure.
	ErrProviderFailed = errors.New("transform provider failed")

	ErrInvalidFilenameSpec = objectkey.ErrInvalidFilenameSpec
	ErrSequenceOutOfRange  = objectkey.ErrSequenceOutOfRange
	ErrUnsupportedFormat   = imageops.ErrUnsupportedFormat
	ErrInvalidRotation     = imageops.ErrInvalidRotation
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindInvalidRequest            ErrorKind = "invalid_request"
	KindSourceFetchFailed         ErrorKind = "source_fetch_failed"
	KindTransformFailed           ErrorKind = "transform_failed"
	KindTransformTimeout          ErrorKind = "transform_timeout"
	KindUploadConflict            ErrorKind = "upload_conflict"
	KindUploadFailed              ErrorKind = "upload_failed"
	KindSequenceExhausted         ErrorKind = "sequence_exhausted"
	KindLocationUnresolved        ErrorKind = "location_unresolved"
	KindMetadataPropagationFailed ErrorKind = "metadata_propagation_failed"
)

// PipelineError is returned by every failed pipeline run.
type PipelineError struct {
	Kind      ErrorKind
	Stage     Stage
	Transform TransformKind
	Retryable bool
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Transform != "" {
		return fmt.Sprintf("%s %s at %s: %v", e.Transform, e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	var re *retryableError
	return errors.As(err, &re)
}

// retryableError marks a transient failure below the pipeline layer.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. Stores, fetchers and providers use it so the
// pipeline can tell timeouts and 5xx responses from permanent failures.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

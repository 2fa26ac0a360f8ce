package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps a pipeline failure to an HTTP status.
func statusFor(err error) int {
	switch simpleasset.KindOf(err) {
	case simpleasset.KindInvalidRequest:
		return http.StatusBadRequest
	case simpleasset.KindSourceFetchFailed:
		return http.StatusBadGateway
	case simpleasset.KindTransformFailed:
		return http.StatusUnprocessableEntity
	case simpleasset.KindTransformTimeout:
		return http.StatusGatewayTimeout
	case simpleasset.KindUploadConflict, simpleasset.KindSequenceExhausted:
		return http.StatusConflict
	case simpleasset.KindUploadFailed:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, simpleasset.ErrInvalidFilenameSpec),
		errors.Is(err, simpleasset.ErrSequenceOutOfRange),
		errors.Is(err, simpleasset.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeFailure renders a pipeline error with its kind and retry hint.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorBody(w, r, statusFor(err), simpleasset.KindOf(err), err.Error(), simpleasset.IsRetryable(err))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind simpleasset.ErrorKind, message string) {
	writeErrorBody(w, r, status, kind, message, false)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, kind simpleasset.ErrorKind, message string, retryable bool) {
	code := string(kind)
	if code == "" {
		code = "internal_error"
	}
	requestID, _ := r.Context().Value(RequestIDKey).(string)
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		RequestID: requestID,
	}})
}

// Package api exposes the derivative pipeline over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// maxRequestBytes bounds JSON request bodies. Image bytes never travel through
// these endpoints, only references.
const maxRequestBytes = 64 << 10

// DerivativeHandler serves the derivative endpoints.
type DerivativeHandler struct {
	pipeline *simpleasset.Pipeline
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDerivativeHandler creates a handler over pipeline. A nil logger uses slog.Default.
func NewDerivativeHandler(pipeline *simpleasset.Pipeline, logger *slog.Logger) *DerivativeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DerivativeHandler{
		pipeline: pipeline,
		validate: newValidator(),
		logger:   logger,
	}
}

// Routes returns the router for derivative endpoints
func (h *DerivativeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestSizeLimit(maxRequestBytes))

	r.Post("/rotate", h.Rotate)
	r.Post("/convert", h.Convert)
	r.Post("/upscale", h.Upscale)

	r.Get("/classify", h.Classify)
	r.Get("/sequence", h.Sequence)
	return r
}

// RotateRequest is the request body for POST /rotate
type RotateRequest struct {
	SourceRef string `json:"source_ref" validate:"required"`
	Degrees   int    `json:"degrees" validate:"required,oneof=90 180 270 -90 -180 -270"`
	Format    string `json:"format,omitempty" validate:"omitempty,imageformat"`
	Quality   int    `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
}

// ConvertRequest is the request body for POST /convert
type ConvertRequest struct {
	SourceRef string `json:"source_ref" validate:"required"`
	Format    string `json:"format" validate:"required,imageformat"`
	Quality   int    `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
	MaxWidth  int    `json:"max_width,omitempty" validate:"gte=0"`
	MaxHeight int    `json:"max_height,omitempty" validate:"gte=0"`
}

// UpscaleRequest is the request body for POST /upscale
type UpscaleRequest struct {
	SourceRef string `json:"source_ref" validate:"required"`
	Scale     int    `json:"scale" validate:"required,oneof=2 4"`
}

// DerivativeResponse describes a stored derivative.
type DerivativeResponse struct {
	PublicRef            string                   `json:"public_ref"`
	FileName             string                   `json:"file_name"`
	StoredPath           string                   `json:"stored_path"`
	Folder               string                   `json:"folder"`
	Placement            string                   `json:"placement"`
	Sequence             int                      `json:"sequence"`
	Width                int                      `json:"width"`
	Height               int                      `json:"height"`
	SizeBytes            int64                    `json:"size_bytes"`
	Format               string                   `json:"format"`
	SourceSizeBytes      int64                    `json:"source_size_bytes,omitempty"`
	SizeReductionPercent *float64                 `json:"size_reduction_percent,omitempty"`
	Propagation          string                   `json:"propagation"`
	PropagationError     string                   `json:"propagation_error,omitempty"`
	Record               *simpleasset.AssetRecord `json:"record,omitempty"`
	ProcessedAt          time.Time                `json:"processed_at"`
}

func (h *DerivativeHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.pipeline.Rotate(r.Context(), req.SourceRef, simpleasset.Rotate{
		Degrees: req.Degrees,
		Format:  req.Format,
		Quality: req.Quality,
	})
	h.respond(w, r, result, err)
}

func (h *DerivativeHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.pipeline.Convert(r.Context(), req.SourceRef, simpleasset.Convert{
		Format:    req.Format,
		Quality:   req.Quality,
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
	})
	h.respond(w, r, result, err)
}

func (h *DerivativeHandler) Upscale(w http.ResponseWriter, r *http.Request) {
	var req UpscaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.pipeline.Upscale(r.Context(), req.SourceRef, simpleasset.Upscale{Scale: req.Scale})
	h.respond(w, r, result, err)
}

// ClassifyResponse is the response body for GET /classify
type ClassifyResponse struct {
	Path     string `json:"path"`
	Location string `json:"location"`
	Subject  string `json:"subject,omitempty"`
}

// Classify reports the location category of a storage path.
func (h *DerivativeHandler) Classify(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, "path parameter is required")
		return
	}
	subject, _ := objectkey.SubjectFromPath(path)
	render.JSON(w, r, ClassifyResponse{
		Path:     path,
		Location: objectkey.Classify(path).String(),
		Subject:  subject,
	})
}

// SequenceResponse is the response body for GET /sequence
type SequenceResponse struct {
	Folder   string `json:"folder"`
	FileName string `json:"file_name"`
	Next     int    `json:"next"`
	Matched  int    `json:"matched"`
	Scanned  int    `json:"scanned"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Sequence previews the name the next derivative in a folder would get.
// The location defaults to the folder's classification and the date to today.
func (h *DerivativeHandler) Sequence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	folder := strings.Trim(q.Get("folder"), "/")
	if folder == "" {
		writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, "folder parameter is required")
		return
	}

	location := objectkey.Classify(folder)
	if token := q.Get("location"); token != "" {
		var ok bool
		if location, ok = objectkey.ParseLocation(token); !ok {
			writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, "unknown location: "+token)
			return
		}
	}

	spec := objectkey.FilenameSpec{
		Location:  location,
		Subject:   q.Get("subject"),
		Tool:      q.Get("tool"),
		Function:  q.Get("function"),
		Extension: q.Get("ext"),
	}
	if date := q.Get("date"); date != "" {
		d, err := time.Parse(objectkey.DateLayout, date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, "date must be YYYYMMDD")
			return
		}
		spec.Date = d
	}

	name, seq, err := h.pipeline.PreviewName(r.Context(), folder, spec)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, err.Error())
		return
	}
	if seq.Degraded() {
		h.logger.Warn("sequence preview degraded", "folder", folder, "err", seq.ListingErr)
	}
	render.JSON(w, r, SequenceResponse{
		Folder:   folder,
		FileName: name,
		Next:     seq.Next,
		Matched:  seq.Matched,
		Scanned:  seq.Scanned,
		Degraded: seq.Degraded(),
	})
}

func (h *DerivativeHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Error("Fail to decode request", "err", err)
		writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		msg := err.Error()
		if errors.As(err, &verrs) {
			msg = describe(verrs)
		}
		writeError(w, r, http.StatusBadRequest, simpleasset.KindInvalidRequest, msg)
		return false
	}
	return true
}

func (h *DerivativeHandler) respond(w http.ResponseWriter, r *http.Request, result *simpleasset.Result, err error) {
	if err != nil {
		kind := simpleasset.KindOf(err)
		h.logger.Error("Failed to create derivative", "kind", kind, "err", err)
		writeFailure(w, r, err)
		return
	}

	resp := DerivativeResponse{
		PublicRef:            result.PublicRef,
		FileName:             result.FileName,
		StoredPath:           result.StoredPath,
		Folder:               result.Folder,
		Placement:            result.Placement.String(),
		Sequence:             result.Sequence,
		Width:                result.Width,
		Height:               result.Height,
		SizeBytes:            result.SizeBytes,
		Format:               result.Format,
		SourceSizeBytes:      result.SourceSizeBytes,
		SizeReductionPercent: result.SizeReductionPercent,
		Propagation:          result.Propagation.String(),
		Record:               result.Record,
		ProcessedAt:          time.Now().UTC(),
	}
	if result.PropagationErr != nil {
		resp.PropagationError = result.PropagationErr.Error()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

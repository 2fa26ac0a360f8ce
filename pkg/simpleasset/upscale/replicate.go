// Package upscale implements simpleasset.Upscaler against hosted super-resolution providers.
package upscale

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Replicate defaults.
const (
	ReplicateName         = "replicate"
	DefaultReplicateURL   = "https://api.replicate.com"
	DefaultReplicateModel = "nightmareai/real-esrgan"
	// DefaultReplicateVersion pins the real-esrgan release.
	DefaultReplicateVersion = "42fed1c4974146d4d2414e2be2c5277c7fcf05fcc3a73abf41610695738c1d7b"
	DefaultPollInterval     = 5 * time.Second
	DefaultCeiling          = 3 * time.Minute
)

// Prediction states reported by Replicate.
const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

// ReplicateConfig configures a Replicate client.
type ReplicateConfig struct {
	APIToken     string
	BaseURL      string
	Model        string
	Version      string
	PollInterval time.Duration
	// Ceiling bounds submit plus polling. Breaching it wraps simpleasset.ErrProviderTimeout.
	Ceiling time.Duration
	// CostPerSecond converts the reported predict time into a cost estimate.
	CostPerSecond float64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Replicate submits a prediction and polls it to completion.
type Replicate struct {
	cfg    ReplicateConfig
	client *http.Client
	logger *slog.Logger
}

// NewReplicate creates a Replicate upscaler. The API token is required.
func NewReplicate(cfg ReplicateConfig) (*Replicate, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("replicate api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultReplicateURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultReplicateModel
	}
	if cfg.Version == "" {
		cfg.Version = DefaultReplicateVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicate{cfg: cfg, client: client, logger: logger}, nil
}

// Name implements simpleasset.Upscaler.
func (r *Replicate) Name() string {
	return ReplicateName
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image string `json:"image"`
	Scale int    `json:"scale"`
}

type prediction struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   json.RawMessage `json:"error"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

// Upscale implements simpleasset.Upscaler.
func (r *Replicate) Upscale(ctx context.Context, req simpleasset.UpscaleRequest) (*simpleasset.UpscaleResult, error) {
	if req.Scale != 2 && req.Scale != 4 {
		return nil, simpleasset.ErrInvalidScale
	}
	if req.ImageURL == "" {
		return nil, fmt.Errorf("%w: image url is required", simpleasset.ErrInvalidRequest)
	}

	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.Ceiling)
	defer cancel()

	pred, err := r.submit(pollCtx, req)
	if err != nil {
		return nil, r.ceilingErr(ctx, pollCtx, err)
	}
	log := r.logger.With("provider", ReplicateName, "prediction", pred.ID)
	log.Info("prediction submitted", "scale", req.Scale)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for pred.Status == statusStarting || pred.Status == statusProcessing || pred.Status == "" {
		select {
		case <-pollCtx.Done():
			return nil, r.ceilingErr(ctx, pollCtx, pollCtx.Err())
		case <-ticker.C:
		}
		next, err := r.get(pollCtx, pred.ID)
		if err != nil {
			if simpleasset.IsRetryable(err) && pollCtx.Err() == nil {
				log.Warn("prediction poll failed, retrying", "err", err)
				continue
			}
			return nil, r.ceilingErr(ctx, pollCtx, err)
		}
		pred = next
	}

	result := &simpleasset.UpscaleResult{
		Model:       r.cfg.Model,
		JobID:       pred.ID,
		PredictTime: time.Duration(pred.Metrics.PredictTime * float64(time.Second)),
		Cost:        pred.Metrics.PredictTime * r.cfg.CostPerSecond,
	}

	switch pred.Status {
	case statusSucceeded:
		out, err := outputURL(pred.Output)
		if err != nil {
			return result, fmt.Errorf("%w: prediction %s: %v", simpleasset.ErrProviderFailed, pred.ID, err)
		}
		result.OutputURL = out
		log.Info("prediction succeeded", "predict_time", result.PredictTime)
		return result, nil
	case statusFailed, statusCanceled:
		return result, fmt.Errorf("%w: prediction %s %s: %s", simpleasset.ErrProviderFailed, pred.ID, pred.Status, providerMessage(pred.Error))
	default:
		return result, fmt.Errorf("%w: prediction %s in unknown state %q", simpleasset.ErrProviderFailed, pred.ID, pred.Status)
	}
}

func (r *Replicate) submit(ctx context.Context, req simpleasset.UpscaleRequest) (*prediction, error) {
	body, err := json.Marshal(predictionRequest{
		Version: r.cfg.Version,
		Input:   predictionInput{Image: req.ImageURL, Scale: req.Scale},
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return r.do(httpReq)
}

func (r *Replicate) get(ctx context.Context, id string) (*prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/v1/predictions/"+id, nil)
	if err != nil {
		return nil, err
	}
	return r.do(httpReq)
}

func (r *Replicate) do(req *http.Request) (*prediction, error) {
	req.Header.Set("Authorization", "Token "+r.cfg.APIToken)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, simpleasset.Retryable(fmt.Errorf("replicate request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("replicate %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, simpleasset.Retryable(err)
		}
		return nil, fmt.Errorf("%w: %v", simpleasset.ErrProviderFailed, err)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("decode replicate response: %w", err)
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("%w: replicate response without prediction id", simpleasset.ErrProviderFailed)
	}
	return &pred, nil
}

// ceilingErr reports an expired ceiling as a provider timeout. Cancellation by
// the caller passes through unchanged.
func (r *Replicate) ceilingErr(parent, pollCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", simpleasset.ErrProviderTimeout, r.cfg.Ceiling, err)
	}
	return err
}

// outputURL accepts a single URL or a list whose first entry is the image.
func outputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("no output")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, u := range list {
			if u != "" {
				return u, nil
			}
		}
	}
	return "", fmt.Errorf("unexpected output %s", string(raw))
}

func providerMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "no error detail"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

package simpleasset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset/imageops"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// DefaultConvertEngine is the tag convert derivatives carry after "convert".
const DefaultConvertEngine = "imaging"

// Timeouts bound each external call and the run as a whole.
type Timeouts struct {
	Pipeline time.Duration
	Fetch    time.Duration
	Upload   time.Duration
	Metadata time.Duration
	Usage    time.Duration
}

// DefaultTimeouts leaves the aggregate ceiling above the default upscale ceiling of 3 minutes.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Pipeline: 4 * time.Minute,
		Fetch:    30 * time.Second,
		Upload:   60 * time.Second,
		Metadata: 10 * time.Second,
		Usage:    10 * time.Second,
	}
}

// Pipeline produces derivative assets and ingests originals. It holds no
// per-run state, so one Pipeline can serve concurrent runs.
type Pipeline struct {
	store    ObjectStore
	metadata MetadataStore
	fetcher  SourceFetcher
	upscaler Upscaler
	usage    UsageRecorder
	logger   *slog.Logger
	hooks    Hooks
	now      func() time.Time

	timeouts        Timeouts
	conflictRetries int
	convertEngine   string

	sequences  *SequenceResolver
	propagator *Propagator
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObjectStore sets the object store. Required.
func WithObjectStore(store ObjectStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithMetadataStore sets the metadata store. Required.
func WithMetadataStore(store MetadataStore) Option {
	return func(p *Pipeline) {
		p.metadata = store
	}
}

// WithFetcher replaces the default store-then-HTTP source fetcher.
func WithFetcher(fetcher SourceFetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = fetcher
	}
}

// WithUpscaler enables the upscale transform.
func WithUpscaler(upscaler Upscaler) Option {
	return func(p *Pipeline) {
		p.upscaler = upscaler
	}
}

// WithUsageRecorder sets the accounting collaborator for provider calls.
func WithUsageRecorder(recorder UsageRecorder) Option {
	return func(p *Pipeline) {
		p.usage = recorder
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithTimeouts overrides the call and run timeouts. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) {
		if t.Pipeline > 0 {
			p.timeouts.Pipeline = t.Pipeline
		}
		if t.Fetch > 0 {
			p.timeouts.Fetch = t.Fetch
		}
		if t.Upload > 0 {
			p.timeouts.Upload = t.Upload
		}
		if t.Metadata > 0 {
			p.timeouts.Metadata = t.Metadata
		}
		if t.Usage > 0 {
			p.timeouts.Usage = t.Usage
		}
	}
}

// WithClock sets the time source used for name dates and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithConflictRetries lets a run re-resolve its sequence number up to n times
// after an upload conflict. The default of 0 surfaces the first conflict.
func WithConflictRetries(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.conflictRetries = n
		}
	}
}

// WithConvertEngine sets the engine tag used in convert file names.
func WithConvertEngine(tag string) Option {
	return func(p *Pipeline) {
		if tag != "" {
			p.convertEngine = tag
		}
	}
}

// WithStageHook adds a stage observer.
func WithStageHook(hook StageHook) Option {
	return func(p *Pipeline) {
		p.hooks.OnStage = append(p.hooks.OnStage, hook)
	}
}

// WithErrorHook adds a failure observer.
func WithErrorHook(hook ErrorHook) Option {
	return func(p *Pipeline) {
		p.hooks.OnError = append(p.hooks.OnError, hook)
	}
}

// New creates a pipeline with the given options
func New(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		usage:         NewNoopUsageRecorder(),
		logger:        slog.Default(),
		now:           time.Now,
		timeouts:      DefaultTimeouts(),
		convertEngine: DefaultConvertEngine,
	}

	for _, option := range options {
		option(p)
	}

	if p.store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if p.metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.usage == nil {
		p.usage = NewNoopUsageRecorder()
	}
	if p.fetcher == nil {
		var chain FetcherChain
		if sf := NewStoreFetcher(p.store, 0); sf != nil {
			chain = append(chain, sf)
		}
		p.fetcher = append(chain, NewHTTPFetcher(nil, 0))
	}

	p.sequences = NewSequenceResolver(p.store)
	p.propagator = NewPropagator(p.metadata, p.logger)
	p.propagator.now = p.now
	return p, nil
}

// Rotate runs a rotate transform on sourceRef.
func (p *Pipeline) Rotate(ctx context.Context, sourceRef string, t Rotate) (*Result, error) {
	return p.Run(ctx, sourceRef, t)
}

// Convert runs a format conversion on sourceRef.
func (p *Pipeline) Convert(ctx context.Context, sourceRef string, t Convert) (*Result, error) {
	return p.Run(ctx, sourceRef, t)
}

// Upscale runs the external upscaler on sourceRef.
func (p *Pipeline) Upscale(ctx context.Context, sourceRef string, t Upscale) (*Result, error) {
	return p.Run(ctx, sourceRef, t)
}

// Run derives a new asset from sourceRef. Fetch, transform and upload failures
// return a *PipelineError. Failures after the upload are absorbed and reported
// on the Result.
func (p *Pipeline) Run(ctx context.Context, sourceRef string, t Transform) (*Result, error) {
	if t == nil {
		return nil, p.invalid(ctx, "", fmt.Errorf("%w: transform is required", ErrInvalidRequest))
	}
	kind := t.Kind()
	if sourceRef == "" {
		return nil, p.invalid(ctx, kind, fmt.Errorf("%w: source reference is required", ErrInvalidRequest))
	}
	if err := t.validate(); err != nil {
		return nil, p.invalid(ctx, kind, err)
	}
	if _, ok := t.(Upscale); ok && p.upscaler == nil {
		return nil, p.invalid(ctx, kind, ErrUpscalerNotConfigured)
	}

	runCtx := ctx
	if p.timeouts.Pipeline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeouts.Pipeline)
		defer cancel()
	}
	log := p.logger.With("transform", kind, "source", sourceRef)

	p.hooks.stage(runCtx, StageFetching, kind)
	src, err := p.fetch(runCtx, sourceRef)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageFetching, kind, KindSourceFetchFailed, err))
	}

	p.hooks.stage(runCtx, StageTransforming, kind)
	out, err := p.transform(runCtx, sourceRef, src, t)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageTransforming, kind, KindTransformFailed, err))
	}

	p.hooks.stage(runCtx, StageResolvingLocation, kind)
	place := p.locate(runCtx, log, sourceRef, kind)

	p.hooks.stage(runCtx, StageNamingAndUploading, kind)
	tool, function := p.nameTags(t, out)
	spec := objectkey.FilenameSpec{
		Location:  objectkey.Classify(place.folder),
		Subject:   place.subject,
		Tool:      tool,
		Function:  function,
		Date:      p.now(),
		Extension: out.Format.Extension(),
	}
	stored, err := p.put(runCtx, log, place.folder, spec, out)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageNamingAndUploading, kind, KindUploadFailed, err))
	}

	result := &Result{
		PublicRef:       stored.publicRef,
		FileName:        stored.name,
		StoredPath:      stored.key,
		Folder:          place.folder,
		Placement:       place.placement,
		Sequence:        stored.sequence,
		Width:           out.Width,
		Height:          out.Height,
		SizeBytes:       int64(len(out.Data)),
		Format:          out.Format.String(),
		SourceSizeBytes: int64(len(src.Data)),
	}
	if kind == TransformConvert {
		reduction := sizeReduction(result.SourceSizeBytes, result.SizeBytes)
		result.SizeReductionPercent = &reduction
	}

	p.hooks.stage(runCtx, StagePropagatingMetadata, kind)
	p.propagate(runCtx, log, sourceRef, kind, result, string(kind))

	p.hooks.stage(runCtx, StageDone, kind)
	log.Info("derivative stored",
		"key", result.StoredPath,
		"placement", result.Placement.String(),
		"sequence", result.Sequence,
		"width", result.Width,
		"height", result.Height,
		"size", result.SizeBytes,
		"propagation", result.Propagation.String())
	return result, nil
}

// PreviewName returns the name the next run would use in folder for spec's fixed fields.
func (p *Pipeline) PreviewName(ctx context.Context, folder string, spec objectkey.FilenameSpec) (string, SequenceResult, error) {
	if spec.Date.IsZero() {
		spec.Date = p.now()
	}
	seq := p.sequences.Next(ctx, folder, spec)
	name, err := objectkey.Compose(spec.WithSequence(seq.Next))
	return name, seq, err
}

func (p *Pipeline) fetch(ctx context.Context, ref string) (*FetchedSource, error) {
	fetchCtx, cancel := p.callContext(ctx, p.timeouts.Fetch)
	defer cancel()
	src, err := p.fetcher.Fetch(fetchCtx, ref)
	if err != nil {
		return nil, err
	}
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("fetch %s: empty body", ref)
	}
	return src, nil
}

func (p *Pipeline) transform(ctx context.Context, sourceRef string, src *FetchedSource, t Transform) (*imageops.Output, error) {
	switch v := t.(type) {
	case Rotate:
		img, srcFormat, err := imageops.Decode(src.Data)
		if err != nil {
			return nil, err
		}
		target := srcFormat
		if v.Format != "" {
			target, _ = imageops.ParseFormat(v.Format)
		} else if !target.Supported() {
			target = imageops.PNG
		}
		rotated, err := imageops.Rotate(img, v.Degrees)
		if err != nil {
			return nil, err
		}
		return imageops.Render(rotated, target, v.Quality)

	case Convert:
		img, _, err := imageops.Decode(src.Data)
		if err != nil {
			return nil, err
		}
		target, _ := imageops.ParseFormat(v.Format)
		return imageops.Render(imageops.Fit(img, v.MaxWidth, v.MaxHeight), target, v.Quality)

	case Upscale:
		return p.upscale(ctx, sourceRef, v)

	default:
		return nil, fmt.Errorf("%w: unknown transform %T", ErrInvalidRequest, t)
	}
}

func (p *Pipeline) upscale(ctx context.Context, sourceRef string, t Upscale) (*imageops.Output, error) {
	started := time.Now()
	res, err := p.upscaler.Upscale(ctx, UpscaleRequest{ImageURL: sourceRef, Scale: t.Scale})

	event := UsageEvent{
		Provider:   p.upscaler.Name(),
		Operation:  TransformUpscale,
		Duration:   time.Since(started),
		Success:    err == nil,
		OccurredAt: p.now().UTC(),
		Attributes: map[string]string{"scale": fmt.Sprintf("%d", t.Scale)},
	}
	if res != nil {
		event.Model = res.Model
		event.JobID = res.JobID
		event.Cost = res.Cost
	}
	if err != nil {
		event.Error = err.Error()
	}
	p.recordUsage(ctx, event)

	if err != nil {
		return nil, err
	}

	out, err := p.fetch(ctx, res.OutputURL)
	if err != nil {
		return nil, fmt.Errorf("download upscaled output: %w", err)
	}
	width, height, format, err := imageops.DecodeConfig(out.Data)
	if err != nil {
		return nil, err
	}
	if !format.Supported() {
		return nil, fmt.Errorf("%w: provider returned %s", ErrUnsupportedFormat, format)
	}
	return &imageops.Output{Data: out.Data, Format: format, Width: width, Height: height}, nil
}

// recordUsage hands the event to the recorder without waiting for it.
func (p *Pipeline) recordUsage(ctx context.Context, event UsageEvent) {
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("usage recorder panicked", "provider", event.Provider, "panic", r)
			}
		}()
		usageCtx, cancel := p.callContext(detached, p.timeouts.Usage)
		defer cancel()
		if err := p.usage.RecordUsage(usageCtx, event); err != nil {
			p.logger.Warn("failed to record usage", "provider", event.Provider, "err", err)
		}
	}()
}

type placement struct {
	folder    string
	subject   string
	placement Placement
}

// locate picks the output folder: the source's own folder when known, otherwise
// the dated ai-generated staging folder.
func (p *Pipeline) locate(ctx context.Context, log *slog.Logger, sourceRef string, kind TransformKind) placement {
	var source *AssetRecord
	lookupCtx, cancel := p.callContext(ctx, p.timeouts.Metadata)
	rec, err := p.metadata.GetAssetByPublicRef(lookupCtx, sourceRef)
	cancel()
	switch {
	case err == nil:
		source = rec
	case errors.Is(err, ErrRecordNotFound):
	default:
		log.Warn("source record lookup failed", "err", err)
	}

	// An empty folder is the bucket root, so "known" is tracked separately.
	folder, known := "", false
	if source != nil && source.StoredPath != "" {
		folder, known = objectkey.Folder(source.StoredPath), true
	}
	if !known {
		if rr, ok := p.store.(ReferenceResolver); ok {
			if key, ok := rr.ObjectKey(sourceRef); ok && key != "" {
				folder, known = objectkey.Folder(key), true
			}
		}
	}

	place := placement{folder: folder, placement: PlacementCoLocated}
	if !known {
		place.folder, _ = objectkey.ResolveFolder(objectkey.AIGeneratedContext{}, p.now())
		place.placement = PlacementFellBackToStaging
		p.absorb(ctx, log, &PipelineError{
			Kind:      KindLocationUnresolved,
			Stage:     StageResolvingLocation,
			Transform: kind,
			Err:       fmt.Errorf("source folder unknown, staging in %s", place.folder),
		})
	}

	if subject, ok := objectkey.SubjectFromPath(place.folder); ok {
		place.subject = subject
	} else if source != nil {
		place.subject, _ = objectkey.SubjectFromTags(source.Tags)
	}
	return place
}

type storedObject struct {
	key       string
	name      string
	publicRef string
	sequence  int
}

// put resolves a sequence number, composes the name and uploads. A conflict is
// retried only when conflictRetries allows it.
func (p *Pipeline) put(ctx context.Context, log *slog.Logger, folder string, spec objectkey.FilenameSpec, out *imageops.Output) (*storedObject, error) {
	var lastErr error
	for attempt := 0; attempt <= p.conflictRetries; attempt++ {
		seq := p.sequences.Next(ctx, folder, spec)
		if seq.Degraded() {
			log.Warn("sequence scan failed, treating folder as empty", "folder", folder, "err", seq.ListingErr)
		}

		name, err := objectkey.Compose(spec.WithSequence(seq.Next))
		if err != nil {
			return nil, err
		}
		key := objectkey.Join(folder, name)

		uploadCtx, cancel := p.callContext(ctx, p.timeouts.Upload)
		err = p.store.Upload(uploadCtx, bytes.NewReader(out.Data), UploadParams{
			ObjectKey:   key,
			ContentType: out.Format.ContentType(),
			Size:        int64(len(out.Data)),
		})
		cancel()

		if err == nil {
			publicRef, err := p.store.PublicURL(key)
			if err != nil {
				return nil, fmt.Errorf("public url for %s: %w", key, err)
			}
			return &storedObject{key: key, name: name, publicRef: publicRef, sequence: seq.Next}, nil
		}
		if !errors.Is(err, ErrUploadConflict) {
			return nil, err
		}
		log.Warn("upload conflict", "key", key, "attempt", attempt+1)
		lastErr = err
	}
	return nil, lastErr
}

// propagate writes the derivative's record and folds the outcome into result.
// It runs detached from the run's deadline so a late upload still gets metadata.
func (p *Pipeline) propagate(ctx context.Context, log *slog.Logger, sourceRef string, kind TransformKind, result *Result, uploadSource string) {
	metaCtx, cancel := p.callContext(context.WithoutCancel(ctx), p.timeouts.Metadata)
	defer cancel()

	record, outcome, err := p.propagator.Propagate(metaCtx, sourceRef, DerivativeFacts{
		PublicRef:    result.PublicRef,
		StoredPath:   result.StoredPath,
		Width:        result.Width,
		Height:       result.Height,
		SizeBytes:    result.SizeBytes,
		Format:       result.Format,
		UploadSource: uploadSource,
	})
	result.Record = record
	result.Propagation = outcome
	if err != nil {
		pe := &PipelineError{
			Kind:      KindMetadataPropagationFailed,
			Stage:     StagePropagatingMetadata,
			Transform: kind,
			Retryable: true,
			Err:       err,
		}
		result.PropagationErr = pe
		p.absorb(ctx, log, pe)
	}
}

func (p *Pipeline) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classify turns a stage failure into a PipelineError. An expired run deadline
// or a provider ceiling is a timeout whatever the stage.
func (p *Pipeline) classify(ctx context.Context, stage Stage, kind TransformKind, fallback ErrorKind, err error) *PipelineError {
	pe := &PipelineError{Kind: fallback, Stage: stage, Transform: kind, Err: err}
	switch {
	case errors.Is(err, ErrProviderTimeout), errors.Is(ctx.Err(), context.DeadlineExceeded):
		pe.Kind = KindTransformTimeout
		pe.Retryable = true
	case errors.Is(err, ErrUploadConflict):
		pe.Kind = KindUploadConflict
		pe.Retryable = true
	case errors.Is(err, ErrSequenceOutOfRange):
		// Every sequence number for the pattern and day is taken.
		pe.Kind = KindSequenceExhausted
		pe.Retryable = false
	case errors.Is(err, ErrInvalidFilenameSpec),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrInvalidRotation),
		errors.Is(err, ErrInvalidScale),
		errors.Is(err, ErrSourceTooLarge),
		errors.Is(err, ErrObjectNotFound),
		errors.Is(err, ErrProviderFailed):
		pe.Retryable = false
	case errors.Is(err, context.DeadlineExceeded):
		pe.Retryable = true
	default:
		pe.Retryable = IsRetryable(err)
	}
	return pe
}

func (p *Pipeline) invalid(ctx context.Context, kind TransformKind, err error) error {
	pe := &PipelineError{Kind: KindInvalidRequest, Stage: StageFetching, Transform: kind, Err: err}
	p.hooks.failure(ctx, pe, true)
	return pe
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, pe *PipelineError) error {
	log.Error("pipeline failed", "stage", pe.Stage.String(), "kind", pe.Kind, "retryable", pe.Retryable, "err", pe.Err)
	p.hooks.failure(ctx, pe, true)
	p.hooks.stage(ctx, StageFailed, pe.Transform)
	return pe
}

func (p *Pipeline) absorb(ctx context.Context, log *slog.Logger, pe *PipelineError) {
	log.Warn("pipeline fallback", "stage", pe.Stage.String(), "kind", pe.Kind, "err", pe.Err)
	p.hooks.failure(ctx, pe, false)
}

// sizeReduction returns the percentage saved, rounded to one decimal.
func sizeReduction(before, after int64) float64 {
	if before <= 0 {
		return 0
	}
	pct := float64(before-after) / float64(before) * 100
	return math.Round(pct*10) / 10
}

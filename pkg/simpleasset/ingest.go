package simpleasset

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset/imageops"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// Default tags for ingested originals.
const (
	DefaultIngestTool     = "upload"
	DefaultIngestFunction = "original"
)

// IngestRequest stores a new original. Context selects the folder template; the
// descriptive fields seed its AssetRecord.
type IngestRequest struct {
	Data    []byte
	Context objectkey.LocationContext

	// Subject overrides the subject derived from the resolved folder.
	Subject  string
	Tool     string
	Function string

	// Format defaults to the source format, or JPEG when that cannot be encoded.
	Format    string
	Quality   int
	MaxWidth  int
	MaxHeight int

	AltText     string
	Title       string
	Description string
	Tags        []string
	GPSLat      *float64
	GPSLng      *float64
	TakenAt     *time.Time
	Metadata    map[string]interface{}

	// UploadSource defaults to UploadSourceFileUpload.
	UploadSource string
}

// Ingest normalises an uploaded or generated image (orientation, bounded size,
// re-encode), stores it under its location's folder and records its metadata.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*Result, error) {
	const kind = TransformIngest
	if len(req.Data) == 0 {
		return nil, p.invalid(ctx, kind, fmt.Errorf("%w: image data is required", ErrInvalidRequest))
	}
	if req.Format != "" {
		if _, err := imageops.ParseFormat(req.Format); err != nil {
			return nil, p.invalid(ctx, kind, err)
		}
	}
	if err := validateQuality(req.Quality); err != nil {
		return nil, p.invalid(ctx, kind, err)
	}

	runCtx := ctx
	if p.timeouts.Pipeline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeouts.Pipeline)
		defer cancel()
	}
	log := p.logger.With("transform", kind)

	p.hooks.stage(runCtx, StageTransforming, kind)
	img, srcFormat, err := imageops.Decode(req.Data)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageTransforming, kind, KindTransformFailed, err))
	}
	target := srcFormat
	if req.Format != "" {
		target, _ = imageops.ParseFormat(req.Format)
	} else if !target.Supported() {
		target = imageops.JPEG
	}
	out, err := imageops.Render(imageops.Fit(img, req.MaxWidth, req.MaxHeight), target, req.Quality)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageTransforming, kind, KindTransformFailed, err))
	}

	p.hooks.stage(runCtx, StageResolvingLocation, kind)
	now := p.now()
	folder, resolution := objectkey.ResolveFolder(req.Context, now)
	place := PlacementResolved
	if resolution == objectkey.FellBackToGeneric {
		place = PlacementFellBackToGeneric
		p.absorb(runCtx, log, &PipelineError{
			Kind:      KindLocationUnresolved,
			Stage:     StageResolvingLocation,
			Transform: kind,
			Err:       fmt.Errorf("location context incomplete, storing in %s", folder),
		})
	}

	p.hooks.stage(runCtx, StageNamingAndUploading, kind)
	subject := req.Subject
	if subject == "" {
		subject, _ = objectkey.SubjectFromPath(folder)
	}
	spec := objectkey.FilenameSpec{
		Location:  objectkey.Classify(folder),
		Subject:   subject,
		Tool:      firstNonEmpty(req.Tool, DefaultIngestTool),
		Function:  firstNonEmpty(req.Function, DefaultIngestFunction),
		Date:      now,
		Extension: out.Format.Extension(),
	}
	stored, err := p.put(runCtx, log, folder, spec, out)
	if err != nil {
		return nil, p.fail(runCtx, log, p.classify(runCtx, StageNamingAndUploading, kind, KindUploadFailed, err))
	}

	result := &Result{
		PublicRef:       stored.publicRef,
		FileName:        stored.name,
		StoredPath:      stored.key,
		Folder:          folder,
		Placement:       place,
		Sequence:        stored.sequence,
		Width:           out.Width,
		Height:          out.Height,
		SizeBytes:       int64(len(out.Data)),
		Format:          out.Format.String(),
		SourceSizeBytes: int64(len(req.Data)),
	}
	reduction := sizeReduction(result.SourceSizeBytes, result.SizeBytes)
	result.SizeReductionPercent = &reduction

	p.hooks.stage(runCtx, StagePropagatingMetadata, kind)
	seed := &AssetRecord{
		AltText:     req.AltText,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		GPSLat:      req.GPSLat,
		GPSLng:      req.GPSLng,
		TakenAt:     req.TakenAt,
		Metadata:    req.Metadata,
	}
	record := DeriveRecord(seed, DerivativeFacts{
		PublicRef:    result.PublicRef,
		StoredPath:   result.StoredPath,
		Width:        result.Width,
		Height:       result.Height,
		SizeBytes:    result.SizeBytes,
		Format:       result.Format,
		UploadSource: firstNonEmpty(req.UploadSource, UploadSourceFileUpload),
	}, now.UTC())
	result.Record = record
	result.Propagation = ResolvedFromSource

	metaCtx, cancel := p.callContext(context.WithoutCancel(runCtx), p.timeouts.Metadata)
	err = p.metadata.UpsertAsset(metaCtx, record)
	cancel()
	if err != nil {
		pe := &PipelineError{
			Kind:      KindMetadataPropagationFailed,
			Stage:     StagePropagatingMetadata,
			Transform: kind,
			Retryable: true,
			Err:       err,
		}
		result.Propagation = PropagationFailed
		result.PropagationErr = pe
		p.absorb(runCtx, log, pe)
	}

	p.hooks.stage(runCtx, StageDone, kind)
	log.Info("original stored", "key", result.StoredPath, "placement", result.Placement.String(), "size", result.SizeBytes)
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

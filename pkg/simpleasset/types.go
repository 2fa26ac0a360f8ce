package simpleasset

import (
	"time"

	"github.com/google/uuid"
)

// TransformKind names a derivative operation.
type TransformKind string

const (
	TransformRotate  TransformKind = "rotate"
	TransformConvert TransformKind = "convert"
	TransformUpscale TransformKind = "upscale"
	// TransformIngest labels runs that store a new original.
	TransformIngest TransformKind = "ingest"
)

// Upload source tags recorded on AssetRecord.UploadSource.
const (
	UploadSourceFileUpload = "file_upload"
	UploadSourceRotate     = string(TransformRotate)
	UploadSourceConvert    = string(TransformConvert)
	UploadSourceUpscale    = string(TransformUpscale)
)

// StatusActive is the status given to records created without a source status.
const StatusActive = "active"

// AssetRecord is the persisted descriptive metadata of one stored asset, keyed by PublicRef.
type AssetRecord struct {
	ID           uuid.UUID              `json:"id"`
	PublicRef    string                 `json:"public_ref"`
	StoredPath   string                 `json:"stored_path"`
	AltText      string                 `json:"alt_text,omitempty"`
	Title        string                 `json:"title,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Width        *int                   `json:"width,omitempty"`
	Height       *int                   `json:"height,omitempty"`
	SizeBytes    int64                  `json:"size_bytes"`
	Format       string                 `json:"format"`
	UploadSource string                 `json:"upload_source"`
	Status       string                 `json:"status"`
	GPSLat       *float64               `json:"gps_lat,omitempty"`
	GPSLng       *float64               `json:"gps_lng,omitempty"`
	TakenAt      *time.Time             `json:"taken_at,omitempty"`
	// Metadata holds free-form descriptive data. Keys naming structural facts of
	// the stored object are dropped when a derivative inherits it.
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Transform is one derivative operation. Implementations are Rotate, Convert and Upscale.
type Transform interface {
	Kind() TransformKind
	validate() error
}

// Rotate turns the image by Degrees (±90, ±180, ±270; positive is clockwise).
// An empty Format keeps the source format.
type Rotate struct {
	Degrees int
	Format  string
	Quality int
}

func (Rotate) Kind() TransformKind { return TransformRotate }

// Convert re-encodes the image, optionally shrinking it to fit MaxWidth x MaxHeight.
type Convert struct {
	Format    string
	Quality   int
	MaxWidth  int
	MaxHeight int
}

func (Convert) Kind() TransformKind { return TransformConvert }

// Upscale runs the external super-resolution provider at Scale (2 or 4).
type Upscale struct {
	Scale int
}

func (Upscale) Kind() TransformKind { return TransformUpscale }

// Stage is a step of a pipeline run.
type Stage int

const (
	StageFetching Stage = iota
	StageTransforming
	StageResolvingLocation
	StageNamingAndUploading
	StagePropagatingMetadata
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageFetching:
		return "fetching"
	case StageTransforming:
		return "transforming"
	case StageResolvingLocation:
		return "resolving_location"
	case StageNamingAndUploading:
		return "naming_and_uploading"
	case StagePropagatingMetadata:
		return "propagating_metadata"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Placement says how the output folder was chosen.
type Placement int

const (
	// PlacementCoLocated puts the derivative in its source's folder.
	PlacementCoLocated Placement = iota
	// PlacementFellBackToStaging uses the dated ai-generated folder because the
	// source's folder could not be determined.
	PlacementFellBackToStaging
	// PlacementResolved is a folder produced by a location template (ingest).
	PlacementResolved
	// PlacementFellBackToGeneric is the generic dated folder used when a
	// location template lacked its required context (ingest).
	PlacementFellBackToGeneric
)

func (p Placement) String() string {
	switch p {
	case PlacementCoLocated:
		return "co_located"
	case PlacementFellBackToStaging:
		return "fell_back_to_staging"
	case PlacementResolved:
		return "resolved"
	case PlacementFellBackToGeneric:
		return "fell_back_to_generic"
	default:
		return "unknown"
	}
}

// PropagationOutcome says where a derivative's descriptive fields came from.
type PropagationOutcome int

const (
	ResolvedFromSource PropagationOutcome = iota
	FellBackToDefault
	PropagationFailed
)

func (o PropagationOutcome) String() string {
	switch o {
	case ResolvedFromSource:
		return "resolved_from_source"
	case FellBackToDefault:
		return "fell_back_to_default"
	case PropagationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes a stored asset produced by a pipeline run.
type Result struct {
	PublicRef  string
	FileName   string
	StoredPath string
	Folder     string
	Placement  Placement
	Sequence   int

	Width     int
	Height    int
	SizeBytes int64
	Format    string

	SourceSizeBytes int64
	// SizeReductionPercent is set for convert only; negative when the output grew.
	SizeReductionPercent *float64

	Propagation PropagationOutcome
	// PropagationErr holds the absorbed metadata failure, if any.
	PropagationErr *PipelineError
	Record         *AssetRecord
}

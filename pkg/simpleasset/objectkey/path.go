package objectkey

import (
	"strconv"
	"time"
)

// PathResolution records whether a location's own template produced the folder.
type PathResolution int

const (
	TemplateApplied PathResolution = iota
	FellBackToGeneric
)

func (r PathResolution) String() string {
	if r == FellBackToGeneric {
		return "fell_back_to_generic"
	}
	return "template_applied"
}

// LocationContext carries exactly the fields one location's path template needs.
// The set of implementations is closed.
type LocationContext interface {
	Location() AssetLocation
	segments(now time.Time) ([]string, bool)
}

// DailySocialContext places assets under the daily branding tree.
type DailySocialContext struct {
	Date    string // e.g. 2025-01-15
	Account string
	Kind    string // e.g. feed, profile, background
}

func (DailySocialContext) Location() AssetLocation { return DailySocial }

func (c DailySocialContext) segments(time.Time) ([]string, bool) {
	return required("daily-branding", "kakao", c.Date, c.Account, c.Kind)
}

// GalleryContext covers product, goods and component galleries.
type GalleryContext struct {
	Gallery AssetLocation
	Slug    string
	Section string // gallery (default), detail, composed
}

func (c GalleryContext) Location() AssetLocation {
	if c.Gallery.IsGallery() {
		return c.Gallery
	}
	return ProductGallery
}

func (c GalleryContext) segments(time.Time) ([]string, bool) {
	if !c.Gallery.IsGallery() {
		return nil, false
	}
	section := c.Section
	if section == "" {
		section = "gallery"
	}
	return required(c.Gallery.String(), c.Slug, section)
}

// BlogContext places assets under the month they were stored in.
type BlogContext struct {
	BlogID int64
}

func (BlogContext) Location() AssetLocation { return BlogAsset }

func (c BlogContext) segments(now time.Time) ([]string, bool) {
	if c.BlogID <= 0 {
		return nil, false
	}
	return required("blog", now.Format("2006-01"), strconv.FormatInt(c.BlogID, 10))
}

// CustomerContext places assets under a customer's visit.
type CustomerContext struct {
	CustomerName string
	VisitDate    string
}

func (CustomerContext) Location() AssetLocation { return CustomerAsset }

func (c CustomerContext) segments(time.Time) ([]string, bool) {
	return required("customers", c.CustomerName, c.VisitDate)
}

// AIGeneratedContext is the dated staging area for generated or orphaned assets.
type AIGeneratedContext struct{}

func (AIGeneratedContext) Location() AssetLocation { return AIGenerated }

func (AIGeneratedContext) segments(now time.Time) ([]string, bool) {
	return []string{AIGenerated.String(), now.Format("2006-01-02")}, true
}

// GenericUploadContext is the dated catch-all.
type GenericUploadContext struct{}

func (GenericUploadContext) Location() AssetLocation { return GenericUpload }

func (GenericUploadContext) segments(now time.Time) ([]string, bool) {
	return genericSegments(now), true
}

func genericSegments(now time.Time) []string {
	return []string{GenericUpload.String(), now.Format("2006-01"), now.Format("2006-01-02")}
}

// required sanitizes each segment and fails if any comes out empty.
func required(parts ...string) ([]string, bool) {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := Sanitize(p)
		if s == "" {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// ResolveFolder applies the template for ctx. When a required field is missing, or ctx is
// nil, it falls back to originals/uploaded/{YYYY-MM}/{YYYY-MM-DD} and says so.
func ResolveFolder(ctx LocationContext, now time.Time) (string, PathResolution) {
	now = now.UTC()
	if ctx != nil {
		if segs, ok := ctx.segments(now); ok {
			return joinSegments(segs), TemplateApplied
		}
	}
	return joinSegments(genericSegments(now)), FellBackToGeneric
}

func joinSegments(segs []string) string {
	folder := Root
	for _, s := range segs {
		folder = Join(folder, s)
	}
	return folder
}

// StoragePathSpec pairs a file name with the location context that decides its folder.
type StoragePathSpec struct {
	Context  LocationContext
	Filename FilenameSpec
}

// StoragePath is a fully resolved object key.
type StoragePath struct {
	Folder     string
	Name       string
	Key        string
	Location   AssetLocation
	Resolution PathResolution
}

// ResolveStoragePath resolves the folder, re-derives the name's location from it and
// composes the name. The filename's Sequence must already be set.
func ResolveStoragePath(spec StoragePathSpec, now time.Time) (StoragePath, error) {
	folder, resolution := ResolveFolder(spec.Context, now)
	fn := spec.Filename
	fn.Location = Classify(folder)
	if fn.Date.IsZero() {
		fn.Date = now
	}
	name, err := Compose(fn)
	if err != nil {
		return StoragePath{}, err
	}
	return StoragePath{
		Folder:     folder,
		Name:       name,
		Key:        Join(folder, name),
		Location:   fn.Location,
		Resolution: resolution,
	}, nil
}

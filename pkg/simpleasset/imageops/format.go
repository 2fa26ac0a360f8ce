package imageops

import (
	"errors"
	"fmt"
	"strings"
)

// Format is an output encoding the pipeline can produce.
type Format string

const (
	JPEG Format = "jpg"
	PNG  Format = "png"
	WebP Format = "webp"
)

// DefaultQuality applies when a lossy encode is requested without a quality.
const DefaultQuality = 85

// ErrUnsupportedFormat indicates a format outside JPEG, PNG and WebP.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ParseFormat accepts format names, extensions and common aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "jpg", "jpeg", "image/jpeg":
		return JPEG, nil
	case "png", "image/png":
		return PNG, nil
	case "webp", "image/webp":
		return WebP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Supported reports whether f is one of the encodable formats.
func (f Format) Supported() bool {
	return f == JPEG || f == PNG || f == WebP
}

// SupportsAlpha reports whether the format can carry transparency.
func (f Format) SupportsAlpha() bool {
	return f == PNG || f == WebP
}

// Lossy reports whether a quality parameter applies.
func (f Format) Lossy() bool {
	return f == JPEG || f == WebP
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

func (f Format) String() string {
	return string(f)
}

// fromDecoderName maps names registered with the image package to a Format.
func fromDecoderName(name string) Format {
	if f, err := ParseFormat(name); err == nil {
		return f
	}
	return Format(name)
}

// ClampQuality keeps a quality within 1..100, using DefaultQuality for zero.
func ClampQuality(q int) int {
	switch {
	case q <= 0:
		return DefaultQuality
	case q > 100:
		return 100
	default:
		return q
	}
}

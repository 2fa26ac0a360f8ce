// Package imageops holds the byte-level image transforms used by the derivative
// pipeline: orientation-aware decoding, rotation, flattening, bounded resizing and
// encoding to JPEG, PNG or WebP.
package imageops

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	"github.com/nfnt/resize"
)

// ErrInvalidRotation indicates a rotation that is not ±90, ±180 or ±270 degrees.
var ErrInvalidRotation = errors.New("invalid rotation")

// Background is the colour transparent pixels are flattened onto.
var Background color.Color = color.White

// Decode reads an image and applies any embedded EXIF orientation, so later
// rotations start from the upright picture.
func Decode(data []byte) (image.Image, Format, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image config: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s image: %w", name, err)
	}
	return img, fromDecoderName(name), nil
}

// DecodeConfig returns dimensions and format without decoding pixels.
func DecodeConfig(data []byte) (width, height int, format Format, err error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, fromDecoderName(name), nil
}

// NormalizeRotation converts a signed rotation to clockwise degrees in {90, 180, 270}.
// Positive values rotate clockwise.
func NormalizeRotation(degrees int) (int, error) {
	if degrees == 0 || degrees%90 != 0 || degrees < -270 || degrees > 270 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, degrees)
	}
	return (degrees%360 + 360) % 360, nil
}

// Rotate turns img clockwise by degrees (negative is counter-clockwise).
func Rotate(img image.Image, degrees int) (image.Image, error) {
	cw, err := NormalizeRotation(degrees)
	if err != nil {
		return nil, err
	}
	// imaging rotates counter-clockwise.
	switch cw {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	default:
		return imaging.Rotate90(img), nil
	}
}

// HasTransparency reports whether any pixel is not fully opaque.
func HasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// Flatten composites img over a solid background. The result has no transparency.
func Flatten(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// Fit shrinks img to fit within maxWidth x maxHeight keeping its aspect ratio.
// A zero bound is unconstrained. Images already inside the bounds are returned
// unchanged, so Fit never enlarges.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if (maxWidth <= 0 || b.Dx() <= maxWidth) && (maxHeight <= 0 || b.Dy() <= maxHeight) {
		return img
	}
	w, h := uint(b.Dx()), uint(b.Dy())
	if maxWidth > 0 {
		w = uint(maxWidth)
	}
	if maxHeight > 0 {
		h = uint(maxHeight)
	}
	return resize.Thumbnail(w, h, img, resize.Lanczos3)
}

// Output is an encoded image with its measured facts.
type Output struct {
	Data      []byte
	Format    Format
	Width     int
	Height    int
	Flattened bool
}

// Render encodes img as format. Transparent images headed for a format without
// alpha are flattened onto Background first; that loss is intended.
func Render(img image.Image, format Format, quality int) (*Output, error) {
	if !format.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	flattened := false
	if !format.SupportsAlpha() && HasTransparency(img) {
		img = Flatten(img, Background)
		flattened = true
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case JPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(ClampQuality(quality)))
	case PNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case WebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: ClampQuality(quality)})
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	b := img.Bounds()
	return &Output{
		Data:      buf.Bytes(),
		Format:    format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Flattened: flattened,
	}, nil
}

package simpleasset

import (
	"fmt"

	"github.com/tendant/simple-asset/pkg/simpleasset/imageops"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

func (t Rotate) validate() error {
	if _, err := imageops.NormalizeRotation(t.Degrees); err != nil {
		return err
	}
	if t.Format != "" {
		if _, err := imageops.ParseFormat(t.Format); err != nil {
			return err
		}
	}
	return validateQuality(t.Quality)
}

func (t Convert) validate() error {
	if _, err := imageops.ParseFormat(t.Format); err != nil {
		return err
	}
	if t.MaxWidth < 0 || t.MaxHeight < 0 {
		return fmt.Errorf("%w: max dimensions must not be negative", ErrInvalidRequest)
	}
	return validateQuality(t.Quality)
}

func (t Upscale) validate() error {
	if t.Scale != 2 && t.Scale != 4 {
		return fmt.Errorf("%w: got %d", ErrInvalidScale, t.Scale)
	}
	return nil
}

func validateQuality(q int) error {
	if q < 0 || q > 100 {
		return fmt.Errorf("%w: quality must be between 1 and 100", ErrInvalidRequest)
	}
	return nil
}

// nameTags returns the tool and function tags a transform contributes to the file name.
func (p *Pipeline) nameTags(t Transform, out *imageops.Output) (tool, function string) {
	quality := 0
	switch v := t.(type) {
	case Rotate:
		quality = v.Quality
	case Convert:
		quality = v.Quality
	}
	if out.Format.Lossy() {
		quality = imageops.ClampQuality(quality)
	}
	formatTag := objectkey.FormatTag(out.Format.Extension(), quality)

	switch v := t.(type) {
	case Rotate:
		cw, _ := imageops.NormalizeRotation(v.Degrees)
		return string(TransformRotate), fmt.Sprintf("%d-%s", cw, formatTag)
	case Convert:
		return string(TransformConvert), fmt.Sprintf("%s-%s", p.convertEngine, formatTag)
	case Upscale:
		return p.upscaler.Name(), fmt.Sprintf("upscale-x%d", v.Scale)
	default:
		return string(t.Kind()), formatTag
	}
}

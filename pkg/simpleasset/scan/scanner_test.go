package scan_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/presets"
	"github.com/tendant/simple-asset/pkg/simpleasset/scan"
)

const folder = "originals/components/shaft-x/gallery"

func put(t *testing.T, tb *presets.Testbed, name string, data []byte) {
	t.Helper()
	require.NoError(t, tb.Store.Upload(context.Background(), bytes.NewReader(data), simpleasset.UploadParams{ObjectKey: folder + "/" + name}))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 4))))
	return buf.Bytes()
}

func TestScanner_BackfillConvert(t *testing.T) {
	tb := presets.NewTesting(t)
	put(t, tb, "a.png", pngBytes(t))
	put(t, tb, "b.PNG", pngBytes(t))
	put(t, tb, "readme.txt", []byte("not an image"))
	put(t, tb, "components-shaft-x-convert-imaging-webp80-20250101-01.webp", []byte("old output"))

	var produced []string
	var progress []int
	res, err := scan.New(tb.Store, nil).Scan(context.Background(), scan.ScanOptions{
		Folder: folder,
		Skip:   scan.SkipDerived,
		Processor: &scan.TransformProcessor{
			Pipeline:  tb.Pipeline,
			Transform: simpleasset.Convert{Format: "webp", Quality: 80},
			Results: func(_ string, r *simpleasset.Result) {
				produced = append(produced, r.FileName)
			},
		},
		OnProgress: func(done, _ int) { progress = append(progress, done) },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalFound)
	assert.Equal(t, 2, res.TotalProcessed)
	assert.Equal(t, 2, res.TotalSkipped)
	assert.Zero(t, res.TotalFailed)
	assert.Len(t, produced, 2)
	for _, name := range produced {
		assert.True(t, strings.HasPrefix(name, "components-shaft-x-convert-imaging-webp80-"), name)
	}
	assert.NotEqual(t, produced[0], produced[1])
	assert.Len(t, progress, 2)

	// outputs written during the scan were not revisited
	assert.Len(t, tb.Store.Keys(folder), 6)
}

func TestScanner_FailuresAreCounted(t *testing.T) {
	tb := presets.NewTesting(t)
	put(t, tb, "a.png", pngBytes(t))
	put(t, tb, "b.png", pngBytes(t))

	boom := errors.New("boom")
	res, err := scan.New(tb.Store, nil).Scan(context.Background(), scan.ScanOptions{
		Folder: folder,
		Processor: scan.ProcessorFunc(func(_ context.Context, key, _ string) error {
			if strings.HasSuffix(key, "b.png") {
				return boom
			}
			return nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalProcessed)
	assert.Equal(t, 1, res.TotalFailed)
	assert.Equal(t, []string{folder + "/b.png"}, res.Failed)
}

func TestScanner_DryRunAndValidation(t *testing.T) {
	tb := presets.NewTesting(t)
	put(t, tb, "a.jpg", []byte("x"))

	s := scan.New(tb.Store, nil)
	res, err := s.Scan(context.Background(), scan.ScanOptions{Folder: folder, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalProcessed)

	_, err = s.Scan(context.Background(), scan.ScanOptions{Folder: folder})
	assert.Error(t, err)
}

func TestSkipDerived(t *testing.T) {
	assert.True(t, scan.SkipDerived("products-x-rotate-90-jpg85-20250115-01.jpg"))
	assert.False(t, scan.SkipDerived("IMG_0001.jpg"))
	assert.False(t, scan.SkipDerived("photo-2025.png"))
}

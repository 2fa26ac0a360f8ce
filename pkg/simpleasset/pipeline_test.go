package simpleasset_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/imageops"
	"github.com/tendant/simple-asset/pkg/simpleasset/presets"
)

var testNow = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return testNow }

const productFolder = "originals/products/black-driver/gallery"

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// seedSource stores an original with a record and returns its public reference.
func seedSource(t *testing.T, tb *presets.Testbed, key string, data []byte) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tb.Store.Upload(ctx, bytes.NewReader(data), simpleasset.UploadParams{ObjectKey: key, ContentType: "image/png"}))
	ref, err := tb.Store.PublicURL(key)
	require.NoError(t, err)

	lat := 37.56
	require.NoError(t, tb.Repo.UpsertAsset(ctx, &simpleasset.AssetRecord{
		PublicRef:    ref,
		StoredPath:   key,
		AltText:      "black driver head",
		Title:        "Black Driver",
		Tags:         []string{"product-black-driver", "golf"},
		GPSLat:       &lat,
		Status:       "draft",
		Metadata:     map[string]interface{}{"story": "launch"},
		UploadSource: simpleasset.UploadSourceFileUpload,
	}))
	return ref
}

func kindOf(t *testing.T, err error) simpleasset.ErrorKind {
	t.Helper()
	var pe *simpleasset.PipelineError
	require.True(t, errors.As(err, &pe), "expected *PipelineError, got %T: %v", err, err)
	return pe.Kind
}

func TestPipeline_RotateCoLocatesWithSource(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, tb, productFolder+"/products-black-driver-upload-original-20250110-01.png", solidPNG(t, 40, 20, color.NRGBA{R: 255, A: 255}))

	res, err := tb.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90, Format: "jpg"})
	require.NoError(t, err)

	assert.Equal(t, simpleasset.PlacementCoLocated, res.Placement)
	assert.Equal(t, productFolder, res.Folder)
	assert.Equal(t, "products-black-driver-rotate-90-jpg85-20250115-01.jpg", res.FileName)
	assert.Equal(t, productFolder+"/"+res.FileName, res.StoredPath)
	assert.Equal(t, "https://cdn.test/"+res.StoredPath, res.PublicRef)
	assert.Equal(t, 1, res.Sequence)
	assert.Equal(t, 20, res.Width)
	assert.Equal(t, 40, res.Height)
	assert.Equal(t, "jpg", res.Format)
	assert.Nil(t, res.SizeReductionPercent)

	ct, ok := tb.Store.ContentType(res.StoredPath)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)

	assert.Equal(t, simpleasset.ResolvedFromSource, res.Propagation)
	rec, err := tb.Repo.GetAssetByPublicRef(context.Background(), res.PublicRef)
	require.NoError(t, err)
	assert.Equal(t, "black driver head", rec.AltText)
	assert.Equal(t, "Black Driver", rec.Title)
	assert.Equal(t, []string{"product-black-driver", "golf"}, rec.Tags)
	assert.Equal(t, "draft", rec.Status)
	assert.Equal(t, 37.56, *rec.GPSLat)
	assert.Equal(t, "launch", rec.Metadata["story"])
	assert.Equal(t, simpleasset.UploadSourceRotate, rec.UploadSource)
	assert.Equal(t, res.StoredPath, rec.StoredPath)
	assert.Equal(t, 20, *rec.Width)
}

func TestPipeline_UnknownSourceFallsBackToStaging(t *testing.T) {
	src := solidPNG(t, 10, 10, color.NRGBA{G: 255, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var absorbed []simpleasset.ErrorKind
	tb := presets.NewTesting(t,
		simpleasset.WithClock(clock),
		simpleasset.WithErrorHook(func(_ context.Context, err *simpleasset.PipelineError, fatal bool) {
			mu.Lock()
			defer mu.Unlock()
			if !fatal {
				absorbed = append(absorbed, err.Kind)
			}
		}),
	)

	res, err := tb.Pipeline.Rotate(context.Background(), srv.URL+"/external/photo.png", simpleasset.Rotate{Degrees: -90})
	require.NoError(t, err)

	assert.Equal(t, simpleasset.PlacementFellBackToStaging, res.Placement)
	assert.Equal(t, "originals/ai-generated/2025-01-15", res.Folder)
	assert.Equal(t, "ai-generated-none-rotate-270-png-20250115-01.png", res.FileName)
	assert.Equal(t, simpleasset.FellBackToDefault, res.Propagation)
	assert.Equal(t, []simpleasset.ErrorKind{simpleasset.KindLocationUnresolved}, absorbed)

	rec, err := tb.Repo.GetAssetByPublicRef(context.Background(), res.PublicRef)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.StatusActive, rec.Status)
	assert.Empty(t, rec.AltText)
}

func TestPipeline_RootSourceCoLocatesAtRoot(t *testing.T) {
	var absorbed []simpleasset.ErrorKind
	tb := presets.NewTesting(t,
		simpleasset.WithClock(clock),
		simpleasset.WithErrorHook(func(_ context.Context, err *simpleasset.PipelineError, fatal bool) {
			absorbed = append(absorbed, err.Kind)
		}),
	)
	ref := seedSource(t, tb, "img.png", solidPNG(t, 20, 10, color.NRGBA{R: 255, A: 255}))

	res, err := tb.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.NoError(t, err)

	assert.Equal(t, simpleasset.PlacementCoLocated, res.Placement)
	assert.Empty(t, res.Folder)
	assert.Equal(t, res.FileName, res.StoredPath)
	assert.NotContains(t, res.StoredPath, "/")
	assert.Empty(t, absorbed)
	assert.Equal(t, simpleasset.ResolvedFromSource, res.Propagation)
}

func TestPipeline_SequenceExhausted(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 8, 8, color.NRGBA{A: 255}))
	for seq := 1; seq <= 99; seq++ {
		key := fmt.Sprintf("%s/products-black-driver-convert-imaging-jpg85-20250115-%02d.jpg", productFolder, seq)
		require.NoError(t, tb.Store.Upload(context.Background(), bytes.NewReader([]byte("x")), simpleasset.UploadParams{ObjectKey: key}))
	}

	_, err := tb.Pipeline.Convert(context.Background(), ref, simpleasset.Convert{Format: "jpg"})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindSequenceExhausted, kindOf(t, err))
	assert.False(t, simpleasset.IsRetryable(err))
	assert.True(t, errors.Is(err, simpleasset.ErrSequenceOutOfRange))
	assert.Len(t, tb.Store.Keys(productFolder), 100)
}

func TestPipeline_ConvertTwiceIncrementsSequence(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, tb, productFolder+"/products-black-driver-upload-original-20250110-01.png", solidPNG(t, 64, 64, color.NRGBA{B: 255, A: 255}))

	first, err := tb.Pipeline.Convert(context.Background(), ref, simpleasset.Convert{Format: "webp", Quality: 80})
	require.NoError(t, err)
	second, err := tb.Pipeline.Convert(context.Background(), ref, simpleasset.Convert{Format: "webp", Quality: 80})
	require.NoError(t, err)

	assert.Equal(t, "products-black-driver-convert-imaging-webp80-20250115-01.webp", first.FileName)
	assert.Equal(t, "products-black-driver-convert-imaging-webp80-20250115-02.webp", second.FileName)
	assert.Equal(t, 2, second.Sequence)
	require.NotNil(t, first.SizeReductionPercent)
	assert.Equal(t, first.SourceSizeBytes, int64(len(solidPNG(t, 64, 64, color.NRGBA{B: 255, A: 255}))))
}

func TestPipeline_ConvertBoundsSize(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 200, 100, color.NRGBA{R: 10, A: 255}))

	res, err := tb.Pipeline.Convert(context.Background(), ref, simpleasset.Convert{Format: "jpeg", MaxWidth: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)
	assert.Equal(t, "products-black-driver-convert-imaging-jpg85-20250115-01.jpg", res.FileName)
}

// failingRepo fails every write.
type failingRepo struct {
	simpleasset.MetadataStore
}

func (failingRepo) UpsertAsset(context.Context, *simpleasset.AssetRecord) error {
	return errors.New("database unavailable")
}

func TestPipeline_MetadataFailureDoesNotFailRun(t *testing.T) {
	base := presets.NewTesting(t)
	ref := seedSource(t, base, productFolder+"/src.png", solidPNG(t, 8, 8, color.NRGBA{A: 255}))

	p, err := simpleasset.New(
		simpleasset.WithObjectStore(base.Store),
		simpleasset.WithMetadataStore(failingRepo{MetadataStore: base.Repo}),
		simpleasset.WithClock(clock),
	)
	require.NoError(t, err)

	res, err := p.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 180})
	require.NoError(t, err)
	assert.Equal(t, simpleasset.PropagationFailed, res.Propagation)
	require.NotNil(t, res.PropagationErr)
	assert.Equal(t, simpleasset.KindMetadataPropagationFailed, res.PropagationErr.Kind)
	assert.True(t, res.PropagationErr.Retryable)
	assert.Contains(t, base.Store.Keys(productFolder), res.StoredPath)
}

// fakeUpscaler returns a fixed output URL.
type fakeUpscaler struct {
	outputURL string
	err       error
}

func (f *fakeUpscaler) Name() string { return "fakeup" }

func (f *fakeUpscaler) Upscale(_ context.Context, req simpleasset.UpscaleRequest) (*simpleasset.UpscaleResult, error) {
	if f.err != nil {
		return &simpleasset.UpscaleResult{JobID: "job-err"}, f.err
	}
	return &simpleasset.UpscaleResult{OutputURL: f.outputURL, Model: "fake-esrgan", JobID: "job-1", Cost: 0.01}, nil
}

// chanRecorder forwards usage events to a channel.
type chanRecorder chan simpleasset.UsageEvent

func (c chanRecorder) RecordUsage(_ context.Context, e simpleasset.UsageEvent) error {
	c <- e
	return nil
}

func TestPipeline_UpscaleDoublesDimensions(t *testing.T) {
	upscaled := solidPNG(t, 64, 32, color.NRGBA{R: 90, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(upscaled)
	}))
	defer srv.Close()

	usage := make(chanRecorder, 1)
	tb := presets.NewTesting(t,
		simpleasset.WithClock(clock),
		simpleasset.WithUpscaler(&fakeUpscaler{outputURL: srv.URL + "/out.png"}),
		simpleasset.WithUsageRecorder(usage),
	)
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 32, 16, color.NRGBA{R: 90, A: 255}))

	res, err := tb.Pipeline.Upscale(context.Background(), ref, simpleasset.Upscale{Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 32, res.Height)
	assert.Equal(t, "products-black-driver-fakeup-upscale-x2-20250115-01.png", res.FileName)
	assert.Equal(t, simpleasset.UploadSourceUpscale, res.Record.UploadSource)

	select {
	case ev := <-usage:
		assert.Equal(t, "fakeup", ev.Provider)
		assert.Equal(t, simpleasset.TransformUpscale, ev.Operation)
		assert.True(t, ev.Success)
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, "2", ev.Attributes["scale"])
	case <-time.After(2 * time.Second):
		t.Fatal("usage event not recorded")
	}
}

func TestPipeline_UpscaleProviderTimeout(t *testing.T) {
	usage := make(chanRecorder, 1)
	tb := presets.NewTesting(t,
		simpleasset.WithUpscaler(&fakeUpscaler{err: simpleasset.ErrProviderTimeout}),
		simpleasset.WithUsageRecorder(usage),
	)
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 8, 8, color.NRGBA{A: 255}))

	_, err := tb.Pipeline.Upscale(context.Background(), ref, simpleasset.Upscale{Scale: 4})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindTransformTimeout, kindOf(t, err))
	assert.True(t, simpleasset.IsRetryable(err))

	select {
	case ev := <-usage:
		assert.False(t, ev.Success)
		assert.NotEmpty(t, ev.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("failed calls must still be recorded")
	}
	assert.Equal(t, []string{productFolder + "/src.png"}, tb.Store.Keys(productFolder), "nothing but the source may be stored")
}

func TestPipeline_UpscaleProviderFailure(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithUpscaler(&fakeUpscaler{err: simpleasset.ErrProviderFailed}))
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 8, 8, color.NRGBA{A: 255}))

	_, err := tb.Pipeline.Upscale(context.Background(), ref, simpleasset.Upscale{Scale: 2})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindTransformFailed, kindOf(t, err))
	assert.False(t, simpleasset.IsRetryable(err))
}

// blindStore hides folder contents from the first n List calls, so the
// sequence scan picks a number that is already taken.
type blindStore struct {
	simpleasset.ObjectStore
	simpleasset.ReferenceResolver
	mu    sync.Mutex
	blind int
}

func (s *blindStore) List(ctx context.Context, folder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blind > 0 {
		s.blind--
		return nil, nil
	}
	return s.ObjectStore.List(ctx, folder)
}

func TestPipeline_UploadConflict(t *testing.T) {
	base := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, base, productFolder+"/src.png", solidPNG(t, 8, 8, color.NRGBA{A: 255}))

	_, err := base.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.NoError(t, err)

	newPipeline := func(retries int) *simpleasset.Pipeline {
		store := &blindStore{ObjectStore: base.Store, ReferenceResolver: base.Store, blind: 1}
		p, err := simpleasset.New(
			simpleasset.WithObjectStore(store),
			simpleasset.WithMetadataStore(base.Repo),
			simpleasset.WithClock(clock),
			simpleasset.WithConflictRetries(retries),
		)
		require.NoError(t, err)
		return p
	}

	_, err = newPipeline(0).Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindUploadConflict, kindOf(t, err))
	assert.True(t, simpleasset.IsRetryable(err))
	assert.True(t, errors.Is(err, simpleasset.ErrUploadConflict))

	res, err := newPipeline(1).Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sequence)
}

func TestPipeline_TransparentRotateToJPEG(t *testing.T) {
	tb := presets.NewTesting(t, simpleasset.WithClock(clock))
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 100, 200, color.NRGBA{}))

	res, err := tb.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90, Format: "jpg", Quality: 90})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Width)
	assert.Equal(t, 100, res.Height)
	assert.Equal(t, "products-black-driver-rotate-90-jpg90-20250115-01.jpg", res.FileName)

	rc, err := tb.Store.Download(context.Background(), res.StoredPath)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	img, format, err := imageops.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, imageops.JPEG, format)
	r, g, b, _ := img.At(100, 50).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestPipeline_InvalidRequests(t *testing.T) {
	tb := presets.NewTesting(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ref  string
		t    simpleasset.Transform
	}{
		{"no source", "", simpleasset.Rotate{Degrees: 90}},
		{"no transform", "https://cdn.test/a.png", nil},
		{"bad rotation", "https://cdn.test/a.png", simpleasset.Rotate{Degrees: 45}},
		{"bad format", "https://cdn.test/a.png", simpleasset.Convert{Format: "gif"}},
		{"bad quality", "https://cdn.test/a.png", simpleasset.Convert{Format: "webp", Quality: 101}},
		{"bad scale", "https://cdn.test/a.png", simpleasset.Upscale{Scale: 3}},
		{"no upscaler", "https://cdn.test/a.png", simpleasset.Upscale{Scale: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tb.Pipeline.Run(ctx, tc.ref, tc.t)
			require.Error(t, err)
			assert.Equal(t, simpleasset.KindInvalidRequest, kindOf(t, err))
			assert.False(t, simpleasset.IsRetryable(err))
		})
	}
}

func TestPipeline_MissingSource(t *testing.T) {
	tb := presets.NewTesting(t)
	_, err := tb.Pipeline.Rotate(context.Background(), "https://cdn.test/originals/none.png", simpleasset.Rotate{Degrees: 90})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindSourceFetchFailed, kindOf(t, err))
	assert.False(t, simpleasset.IsRetryable(err))
}

func TestPipeline_UndecodableSource(t *testing.T) {
	tb := presets.NewTesting(t)
	ref := seedSource(t, tb, productFolder+"/notes.png", []byte("not an image"))
	_, err := tb.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindTransformFailed, kindOf(t, err))
}

func TestPipeline_StageHooks(t *testing.T) {
	var stages []simpleasset.Stage
	tb := presets.NewTesting(t, simpleasset.WithStageHook(func(_ context.Context, s simpleasset.Stage, kind simpleasset.TransformKind) {
		assert.Equal(t, simpleasset.TransformRotate, kind)
		stages = append(stages, s)
	}))
	ref := seedSource(t, tb, productFolder+"/src.png", solidPNG(t, 4, 4, color.NRGBA{A: 255}))

	_, err := tb.Pipeline.Rotate(context.Background(), ref, simpleasset.Rotate{Degrees: 90})
	require.NoError(t, err)
	assert.Equal(t, []simpleasset.Stage{
		simpleasset.StageFetching,
		simpleasset.StageTransforming,
		simpleasset.StageResolvingLocation,
		simpleasset.StageNamingAndUploading,
		simpleasset.StagePropagatingMetadata,
		simpleasset.StageDone,
	}, stages)
}

func TestPipeline_AggregateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	tb := presets.NewTesting(t, simpleasset.WithTimeouts(simpleasset.Timeouts{Pipeline: 50 * time.Millisecond}))
	_, err := tb.Pipeline.Rotate(context.Background(), srv.URL+"/slow.png", simpleasset.Rotate{Degrees: 90})
	require.Error(t, err)
	assert.Equal(t, simpleasset.KindTransformTimeout, kindOf(t, err))
	assert.True(t, simpleasset.IsRetryable(err))
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := simpleasset.New()
	assert.Error(t, err)

	tb := presets.NewTesting(t)
	_, err = simpleasset.New(simpleasset.WithObjectStore(tb.Store))
	assert.Error(t, err)
}

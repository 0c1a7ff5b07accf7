package vision

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/mempool"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

func newContourEngine(t *testing.T) Engine {
	t.Helper()
	eng, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestBackends_IncludesPureGo(t *testing.T) {
	assert.Contains(t, Backends(), BackendContour)
	assert.Contains(t, Backends(), BackendONNX)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "tesseract"})
	var le *apperrors.EngineLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "tesseract", le.Backend)
	assert.Equal(t, apperrors.KindEngineLoad, apperrors.KindOf(err))
}

func TestNew_ONNXMissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendONNX
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := New(cfg)
	var le *apperrors.EngineLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, BackendONNX, le.Backend)
	assert.Contains(t, err.Error(), "missing.onnx")
}

func TestFrameToBuffer_Rejects(t *testing.T) {
	eng := newContourEngine(t)

	_, err := eng.FrameToBuffer(nil)
	assert.Equal(t, apperrors.KindCapture, apperrors.KindOf(err))

	_, err = eng.FrameToBuffer(image.NewNRGBA(image.Rect(0, 0, 0, 10)))
	assert.Equal(t, apperrors.KindCapture, apperrors.KindOf(err))
}

func TestFrameToBuffer_Downscales(t *testing.T) {
	eng := newContourEngine(t)
	img, _ := testutil.GenerateCard(testutil.DefaultCardConfig())

	buf, err := eng.FrameToBuffer(img)
	require.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, 1280, buf.Width())
	assert.Equal(t, 720, buf.Height())
	assert.Equal(t, 640, buf.Analysis().Rect.Dx())
	assert.Equal(t, 360, buf.Analysis().Rect.Dy())
	assert.InDelta(t, 2.0, buf.Scale(), 1e-9)
	gray, gw, gh := buf.Gray()
	assert.Len(t, gray, gw*gh)
}

func assertCornersNear(t *testing.T, want [4]utils.Point, got geometry.Quad, tol float64) {
	t.Helper()
	ordered := geometry.OrderCorners(want)
	for i := range 4 {
		d := math.Hypot(ordered[i].X-got[i].X, ordered[i].Y-got[i].Y)
		assert.LessOrEqual(t, d, tol, "corner %d: want %v got %v", i, ordered[i], got[i])
	}
}

func TestDetectQuadrilateral_FindsCard(t *testing.T) {
	eng := newContourEngine(t)

	cases := []struct {
		name     string
		rotation float64
		skew     float64
	}{
		{"upright", 0, 0},
		{"rotated", 8, 0},
		{"perspective", -5, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testutil.DefaultCardConfig()
			cfg.Rotation, cfg.Skew = tc.rotation, tc.skew
			img, corners := testutil.GenerateCard(cfg)

			buf, err := eng.FrameToBuffer(img)
			require.NoError(t, err)
			defer buf.Release()

			q, blur, found, err := eng.DetectQuadrilateral(buf)
			require.NoError(t, err)
			require.True(t, found)
			assertCornersNear(t, corners, q, 20)
			assert.Greater(t, blur, 30.0)
		})
	}
}

func TestDetectQuadrilateral_EmptyFrame(t *testing.T) {
	eng := newContourEngine(t)
	buf, err := eng.FrameToBuffer(testutil.BlankFrame(640, 480, color.Gray{Y: 90}))
	require.NoError(t, err)
	defer buf.Release()

	_, blur, found, err := eng.DetectQuadrilateral(buf)
	require.NoError(t, err)
	assert.False(t, found)
	assert.InDelta(t, 0, blur, 1e-9)
}

func TestDetectQuadrilateral_CardTooSmall(t *testing.T) {
	eng := newContourEngine(t)
	cfg := testutil.DefaultCardConfig()
	cfg.CardWidth = 200
	img, _ := testutil.GenerateCard(cfg)
	buf, err := eng.FrameToBuffer(img)
	require.NoError(t, err)
	defer buf.Release()

	_, _, found, err := eng.DetectQuadrilateral(buf)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDetectQuadrilateral_BlurredCardScoresLow(t *testing.T) {
	eng := newContourEngine(t)
	cfg := testutil.DefaultCardConfig()
	cfg.BlurSigma = 8
	img, _ := testutil.GenerateCard(cfg)
	buf, err := eng.FrameToBuffer(img)
	require.NoError(t, err)
	defer buf.Release()

	_, blur, _, err := eng.DetectQuadrilateral(buf)
	require.NoError(t, err)
	assert.Less(t, blur, 15.0)
}

func TestDetectQuadrilateral_ReleasedBuffer(t *testing.T) {
	eng := newContourEngine(t)
	buf, err := eng.FrameToBuffer(testutil.BlankFrame(64, 64, color.White))
	require.NoError(t, err)
	buf.Release()
	buf.Release()

	_, _, _, err = eng.DetectQuadrilateral(buf)
	assert.Equal(t, apperrors.KindCapture, apperrors.KindOf(err))
}

func TestPerspectiveCrop_ExactSize(t *testing.T) {
	eng := newContourEngine(t)
	cfg := testutil.DefaultCardConfig()
	cfg.Rotation, cfg.Skew = 10, 30
	img, corners := testutil.GenerateCard(cfg)
	buf, err := eng.FrameToBuffer(img)
	require.NoError(t, err)
	defer buf.Release()

	q := geometry.OrderCorners(corners)
	out, err := eng.PerspectiveCrop(buf, q, 800, 500)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, 800, out.Width())
	assert.Equal(t, 500, out.Height())
	c := out.Image().NRGBAAt(400, 250)
	card := cfg.Card.(color.NRGBA)
	assert.InDelta(t, float64(card.R), float64(c.R), 12)
	assert.InDelta(t, float64(card.G), float64(c.G), 12)
}

func TestPerspectiveCrop_InvalidGeometry(t *testing.T) {
	eng := newContourEngine(t)
	buf, err := eng.FrameToBuffer(testutil.BlankFrame(100, 100, color.White))
	require.NoError(t, err)
	defer buf.Release()

	line := geometry.Quad{{X: 0, Y: 0}, {X: 50, Y: 50}, {X: 100, Y: 100}, {X: 25, Y: 25}}
	_, err = eng.PerspectiveCrop(buf, line, 800, 500)
	var ge *apperrors.InvalidGeometryError
	assert.ErrorAs(t, err, &ge)

	_, err = eng.PerspectiveCrop(buf, geometry.FullFrame(100, 100), 0, 500)
	assert.ErrorAs(t, err, &ge)
}

func TestEncode(t *testing.T) {
	eng := newContourEngine(t)
	buf, err := eng.FrameToBuffer(testutil.BlankFrame(32, 20, color.White))
	require.NoError(t, err)
	defer buf.Release()

	jpg, err := eng.Encode(buf, media.MIMEJPEG)
	require.NoError(t, err)
	assert.Equal(t, media.MIMEJPEG, jpg.MIMEType)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpg.Data[:2])

	png, err := eng.Encode(buf, media.MIMEPNG)
	require.NoError(t, err)
	decoded, err := png.Decode()
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())

	_, err = eng.Encode(buf, "image/gif")
	assert.Equal(t, apperrors.KindCapture, apperrors.KindOf(err))
}

func TestBuffers_ReturnToPool(t *testing.T) {
	eng := newContourEngine(t)
	img, corners := testutil.GenerateCard(testutil.DefaultCardConfig())
	before := mempool.Outstanding()

	for range 3 {
		buf, err := eng.FrameToBuffer(img)
		require.NoError(t, err)
		_, _, _, err = eng.DetectQuadrilateral(buf)
		require.NoError(t, err)
		out, err := eng.PerspectiveCrop(buf, geometry.OrderCorners(corners), 400, 250)
		require.NoError(t, err)
		out.Release()
		buf.Release()
	}
	assert.Equal(t, before, mempool.Outstanding())
}

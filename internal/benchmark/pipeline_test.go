package benchmark

import (
	"context"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

// cornerDetector reports the synthetic card corners for frames wider than
// the blank frame.
type cornerDetector struct {
	quad  geometry.Quad
	calls atomic.Int32
}

func (d *cornerDetector) DetectInFrame(_ context.Context, f capture.Frame) (*detector.DetectionResult, error) {
	d.calls.Add(1)
	res := &detector.DetectionResult{FrameWidth: f.Width, FrameHeight: f.Height}
	if f.Width > 64 {
		q := d.quad
		res.Points = &q
		res.Detected = true
	}
	return res, nil
}

type countingCropper struct {
	calls atomic.Int32
	quads []geometry.Quad
}

func (c *countingCropper) Crop(_ context.Context, _ capture.Frame, q geometry.Quad, _ scan.SnapshotSource) (scan.CapturedImage, error) {
	c.calls.Add(1)
	c.quads = append(c.quads, q)
	return scan.CapturedImage{Quad: q}, nil
}

func TestAddPipeline(t *testing.T) {
	cfg := testutil.DefaultCardConfig()
	card, corners := testutil.GenerateCard(cfg)
	det := &cornerDetector{quad: geometry.Quad(corners)}
	crop := &countingCropper{}

	frames := []Frame{
		{Name: "card", Frame: capture.NewFrame(card)},
		{Name: "blank", Frame: capture.NewFrame(testutil.BlankFrame(64, 48, color.Black))},
	}
	suite := NewSuite()
	require.NoError(t, AddPipeline(context.Background(), suite, det, crop, 200*time.Millisecond, frames))

	assert.Equal(t, []string{"detect/card", "crop/card", "detect/blank", "crop/blank"}, suite.Names())
	assert.EqualValues(t, 2, det.calls.Load(), "one setup detection per frame")

	results := suite.RunAll(context.Background(), 4)
	require.Len(t, results, 4)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	require.NoError(t, byName["detect/card"].Err)
	assert.Equal(t, 200*time.Millisecond, byName["detect/card"].Budget)
	require.NoError(t, byName["crop/card"].Err)
	assert.Equal(t, 4, byName["crop/card"].Iterations)
	require.ErrorIs(t, byName["crop/blank"].Err, ErrNoDocument)

	assert.EqualValues(t, 4, crop.calls.Load())
	assert.Equal(t, geometry.Quad(corners), crop.quads[0])
	assert.EqualValues(t, 2+8, det.calls.Load())
}

func TestAddPipelineDetectOnly(t *testing.T) {
	card, corners := testutil.GenerateCard(testutil.DefaultCardConfig())
	det := &cornerDetector{quad: geometry.Quad(corners)}

	suite := NewSuite()
	require.NoError(t, AddPipeline(context.Background(), suite, det, nil, 0,
		[]Frame{{Name: "card", Frame: capture.NewFrame(card)}}))

	assert.Equal(t, []string{"detect/card"}, suite.Names())
	assert.Zero(t, det.calls.Load())
}

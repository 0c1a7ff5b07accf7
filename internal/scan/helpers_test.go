package scan

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// scriptedDetector returns one scripted result per call. Past the end of
// the script it keeps returning the final entry.
type scriptedDetector struct {
	mu      sync.Mutex
	script  []*detector.DetectionResult
	calls   int
	onCall  func(n int)
	failErr error
}

func (d *scriptedDetector) DetectInFrame(_ context.Context, frame capture.Frame) (*detector.DetectionResult, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	var res *detector.DetectionResult
	if len(d.script) > 0 {
		res = d.script[min(n, len(d.script))-1]
	}
	hook := d.onCall
	d.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if d.failErr != nil {
		return nil, d.failErr
	}
	if res == nil || frame.Empty() {
		return nil, nil
	}
	out := *res
	out.FrameWidth, out.FrameHeight = frame.Width, frame.Height
	return &out, nil
}

func (d *scriptedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func positive(q geometry.Quad, blur float64) *detector.DetectionResult {
	return &detector.DetectionResult{Detected: true, Points: &q, BlurScore: blur}
}

func negative() *detector.DetectionResult {
	return &detector.DetectionResult{}
}

type cropCall struct {
	quad  geometry.Quad
	frame capture.Frame
}

// recordingCropper records every crop and delegates to inner, or returns
// a stub image when inner is nil.
type recordingCropper struct {
	mu    sync.Mutex
	calls []cropCall
	inner Capturer
	err   error
}

func (r *recordingCropper) Crop(ctx context.Context, frame capture.Frame, quad geometry.Quad, snap SnapshotSource) (CapturedImage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cropCall{quad: quad, frame: frame})
	r.mu.Unlock()
	if r.err != nil {
		return CapturedImage{}, r.err
	}
	if r.inner != nil {
		return r.inner.Crop(ctx, frame, quad, snap)
	}
	if err := quad.Validate(); err != nil {
		return CapturedImage{}, err
	}
	return CapturedImage{Quad: quad, CapturedAt: time.Now()}, nil
}

func (r *recordingCropper) Calls() []cropCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cropCall(nil), r.calls...)
}

// neverLoads is an engine provider whose engine never becomes ready.
type neverLoads struct{}

func (neverLoads) Load(ctx context.Context) (vision.Engine, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingProvider struct{}

func (failingProvider) Load(context.Context) (vision.Engine, error) {
	return nil, errors.New("no runtime")
}

func fastMachineConfig() MachineConfig {
	return MachineConfig{PollInterval: 2 * time.Millisecond, FallbackTimeout: 2 * time.Second, StabilityTicks: 1}
}

func cardImage() image.Image {
	img, _ := testutil.GenerateCard(testutil.DefaultCardConfig())
	return img
}

func openSource(t *testing.T, frames ...image.Image) *capture.MockSource {
	t.Helper()
	src := capture.NewMockSource(frames, false)
	require.NoError(t, src.Open(context.Background()))
	return src
}

func rectQuad(x, y, w, h float64) geometry.Quad {
	return geometry.Quad{{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}}
}

func zeroAreaQuad() geometry.Quad {
	return geometry.Quad{{X: 10, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 10}}
}

// doneRecorder collects done-hook invocations.
type doneRecorder struct {
	mu    sync.Mutex
	calls int
	img   *CapturedImage
	err   error
	ch    chan struct{}
}

func newDoneRecorder() *doneRecorder { return &doneRecorder{ch: make(chan struct{}, 4)} }

func (d *doneRecorder) hook(img *CapturedImage, err error) {
	d.mu.Lock()
	d.calls++
	d.img, d.err = img, err
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *doneRecorder) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-d.ch:
	case <-time.After(timeout):
		t.Fatal("machine did not finish")
	}
}

func (d *doneRecorder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// fakeDetector reports quad for every non-empty frame.
type fakeDetector struct {
	mu    sync.Mutex
	quad  *geometry.Quad
	blur  float64
	err   error
	calls int
}

func (d *fakeDetector) DetectInFrame(_ context.Context, frame capture.Frame) (*detector.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if frame.Empty() {
		return nil, nil
	}
	res := &detector.DetectionResult{FrameWidth: frame.Width, FrameHeight: frame.Height, BlurScore: d.blur}
	if d.quad != nil {
		q := *d.quad
		res.Points = &q
		res.Detected = true
	}
	return res, nil
}

type fakeEngine struct {
	backend string
	state   vision.State
	err     error
}

func (e fakeEngine) Backend() string     { return e.backend }
func (e fakeEngine) State() vision.State { return e.state }
func (e fakeEngine) Err() error          { return e.err }

type fakeHistory struct {
	records []store.Record
	stats   store.Stats
	err     error
	limit   int
}

func (h *fakeHistory) List(_ context.Context, limit int) ([]store.Record, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.records[:min(limit, len(h.records))], nil
}

func (h *fakeHistory) Stats(context.Context) (store.Stats, error) {
	return h.stats, h.err
}

// outcomeRecorder collects outcomes passed to Deps.OnOutcome.
type outcomeRecorder struct {
	mu  sync.Mutex
	got []scan.Outcome
}

func (r *outcomeRecorder) record(_ context.Context, o scan.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, o)
}

func (r *outcomeRecorder) outcomes() []scan.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scan.Outcome(nil), r.got...)
}

// cardQuad returns the generated card image and its true outline.
func cardQuad() (image.Image, geometry.Quad) {
	img, corners := testutil.GenerateCard(testutil.DefaultCardConfig())
	return img, geometry.OrderCorners(corners)
}

func fastScanConfig(doc scan.DocumentType) scan.ControllerConfig {
	return scan.ControllerConfig{
		Document: doc,
		Machine: scan.MachineConfig{
			PollInterval:    5 * time.Millisecond,
			FallbackTimeout: 5 * time.Second,
			StabilityTicks:  1,
		},
		AutoAdvanceDelay: 10 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *Server {
	t.Helper()
	if deps.Cropper == nil {
		deps.Cropper = scan.NewCropper(scan.DefaultCropperConfig(), nil)
	}
	if deps.Detector == nil {
		deps.Detector = &fakeDetector{}
	}
	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartRequest builds a POST with an "image" file and extra fields.
func multipartRequest(t *testing.T, path string, imageData []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if imageData != nil {
		part, err := w.CreateFormFile("image", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(imageData)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

var errBoom = errors.New("boom")

package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

func testController(doc scan.DocumentType, src capture.Source, autoAdvance time.Duration) *scan.Controller {
	cfg := scan.ControllerConfig{
		Document: doc,
		Machine: scan.MachineConfig{
			PollInterval:    10 * time.Millisecond,
			FallbackTimeout: 5 * time.Second,
			StabilityTicks:  1,
		},
		AutoAdvanceDelay: autoAdvance,
	}
	det := detector.New(detector.DefaultConfig(), vision.NewLoader(vision.DefaultConfig()))
	crop := scan.NewCropper(scan.DefaultCropperConfig(), nil)
	return scan.NewController(cfg, src, det, crop)
}

func cardSource() *capture.MockSource {
	img, _ := testutil.GenerateCard(testutil.DefaultCardConfig())
	return capture.NewMockSource([]image.Image{img}, true)
}

func TestRunScan_BothSides(t *testing.T) {
	for _, tc := range []struct {
		name        string
		autoAdvance time.Duration
	}{
		{"started by caller", 0},
		{"auto advance", 20 * time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := testController(scan.DocumentEmiratesID, cardSource(), tc.autoAdvance)
			defer func() { _ = ctrl.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var progress bytes.Buffer
			sum, err := runScan(ctx, ctrl, tc.autoAdvance > 0, &progress)
			require.NoError(t, err)
			require.Len(t, sum.Images, 2)
			assert.Equal(t, scan.SideFront, sum.Images[0].Side)
			assert.Equal(t, scan.SideBack, sum.Images[1].Side)
			assert.NotEmpty(t, sum.ID)
			assert.Contains(t, progress.String(), "Turn the document over to scan the back")
		})
	}
}

func TestRunScan_CameraUnavailable(t *testing.T) {
	src := capture.NewMockSource(nil, false, capture.WithOpenError(errors.New("device busy")))
	ctrl := testController(scan.DocumentPassport, src, 0)
	defer func() { _ = ctrl.Close() }()

	_, err := runScan(context.Background(), ctrl, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCameraUnavailable, apperrors.KindOf(err))
}

func TestRunScan_Aborted(t *testing.T) {
	blank := testutil.BlankFrame(640, 360, testutil.DefaultCardConfig().Background)
	ctrl := testController(scan.DocumentPassport, capture.NewMockSource([]image.Image{blank}, true), 0)
	defer func() { _ = ctrl.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runScan(ctx, ctrl, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanSummaryWrite(t *testing.T) {
	var buf bytes.Buffer
	sum := scanSummary{
		ID:       "abc",
		Document: scan.DocumentPassport,
		Images:   []scan.CapturedImage{{Side: scan.SideFront, Forced: true}},
		Exported: []string{"dir", "pdf"},
		Elapsed:  1500 * time.Millisecond,
	}
	require.NoError(t, sum.write(&buf))
	assert.Contains(t, buf.String(), "Scan abc (passport) completed in 1.5s")
	assert.Contains(t, buf.String(), "front: forced capture")
	assert.Contains(t, buf.String(), "exported: [dir pdf]")
}

func TestScanCommand_ReplayExport(t *testing.T) {
	frames := t.TempDir()
	testutil.WriteCardFrames(t, frames, 2, testutil.DefaultCardConfig())
	out := t.TempDir()

	output, err := executeCommand(t, "scan",
		"--document", "passport",
		"--source", "replay",
		"--dir", frames,
		"--export-dir", out,
		"--no-history",
		"--timeout", "20s")
	require.NoError(t, err)
	assert.Contains(t, output, "completed")

	crops, err := filepath.Glob(filepath.Join(out, "*_front_crop.jpg"))
	require.NoError(t, err)
	assert.Len(t, crops, 1)
}

func TestScanCommand_RejectsStreamSource(t *testing.T) {
	_, err := executeCommand(t, "scan", "--source", "stream", "--no-history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream source")
}

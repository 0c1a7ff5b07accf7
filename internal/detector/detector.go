// Package detector decides, one frame at a time, whether a sharp
// document-shaped quadrilateral is in view.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// Profile selects the blur threshold for the capturing device.
type Profile string

const (
	ProfileMobile  Profile = "mobile"
	ProfileDesktop Profile = "desktop"
)

// DefaultBudget is the per-frame time budget. Slower detections are logged
// and counted; they are never queued.
const DefaultBudget = 200 * time.Millisecond

// Config controls detection acceptance.
type Config struct {
	Profile              Profile
	MobileBlurThreshold  float64
	DesktopBlurThreshold float64
	Budget               time.Duration
}

// DefaultConfig returns the mobile profile with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Profile:              ProfileMobile,
		MobileBlurThreshold:  15,
		DesktopBlurThreshold: 30,
		Budget:               DefaultBudget,
	}
}

// BlurThreshold returns the minimum blur score for the configured profile.
func (c Config) BlurThreshold() float64 {
	if c.Profile == ProfileDesktop {
		return c.DesktopBlurThreshold
	}
	return c.MobileBlurThreshold
}

// Validate checks the profile and thresholds.
func (c Config) Validate() error {
	switch c.Profile {
	case ProfileMobile, ProfileDesktop:
	default:
		return fmt.Errorf("unknown device profile %q", c.Profile)
	}
	if c.MobileBlurThreshold < 0 || c.DesktopBlurThreshold < 0 {
		return errors.New("blur thresholds must be non-negative")
	}
	if c.Budget <= 0 {
		return errors.New("detection budget must be positive")
	}
	return nil
}

// EngineProvider hands out the shared vision engine. *vision.Loader
// satisfies it.
type EngineProvider interface {
	Load(ctx context.Context) (vision.Engine, error)
}

// Detector runs the vision engine on frames. When the engine fails to load
// the detector switches to a disabled mode in which every frame is reported
// as not detected.
type Detector struct {
	cfg      Config
	provider EngineProvider

	mu          sync.RWMutex
	disabled    bool
	disabledErr error
}

// New returns a Detector drawing its engine from provider.
func New(cfg Config, provider EngineProvider) *Detector {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	return &Detector{cfg: cfg, provider: provider}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// Disabled reports whether detection is off because the engine is unavailable.
func (d *Detector) Disabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disabled
}

// DisabledReason returns the engine load error behind Disabled.
func (d *Detector) DisabledReason() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disabledErr
}

func (d *Detector) disable(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disabled {
		return
	}
	d.disabled, d.disabledErr = true, err
	slog.Warn("Document detection disabled", "error", err)
}

// engine returns the loaded engine, or nil while it is still loading or
// after it failed to load.
func (d *Detector) engine(ctx context.Context) (vision.Engine, error) {
	if d.provider == nil || d.Disabled() {
		return nil, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.Budget)
	defer cancel()
	eng, err := d.provider.Load(waitCtx)
	switch {
	case err == nil:
		return eng, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil:
		slog.Debug("Vision engine still loading, skipping frame")
		return nil, nil
	default:
		d.disable(err)
		return nil, nil
	}
}

// DetectInFrame analyses one frame. It returns nil, nil for frames without
// pixels so that a polling loop can skip the tick. A quadrilateral that is
// found but too blurry is reported in Points with Detected false.
func (d *Detector) DetectInFrame(ctx context.Context, frame capture.Frame) (*DetectionResult, error) {
	if frame.Empty() {
		return nil, nil
	}
	res := &DetectionResult{FrameWidth: frame.Width, FrameHeight: frame.Height}

	eng, err := d.engine(ctx)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		res.Disabled = d.Disabled()
		outcome := outcomePending
		if res.Disabled {
			outcome = outcomeDisabled
		}
		detectionsTotal.WithLabelValues(outcome).Inc()
		return res, nil
	}

	start := time.Now()
	buf, err := eng.FrameToBuffer(frame.Image)
	if err != nil {
		detectionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	quad, blur, found, err := eng.DetectQuadrilateral(buf)
	buf.Release()
	res.Duration = time.Since(start)
	detectionDuration.Observe(res.Duration.Seconds())
	if res.Duration > d.cfg.Budget {
		slowDetectionsTotal.Inc()
		slog.Warn("Detection exceeded frame budget",
			"duration_ms", res.Duration.Milliseconds(),
			"budget_ms", d.cfg.Budget.Milliseconds(),
			"frame_width", frame.Width, "frame_height", frame.Height)
	}
	if err != nil {
		detectionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, &apperrors.CaptureError{Op: "detect", Cause: err}
	}

	res.BlurScore = blur
	if found && quad.Valid() {
		q := quad
		res.Points = &q
		res.Detected = blur >= d.cfg.BlurThreshold()
	}
	switch {
	case res.Detected:
		detectionsTotal.WithLabelValues(outcomeDetected).Inc()
	case res.Points != nil:
		detectionsTotal.WithLabelValues(outcomeBlurry).Inc()
	default:
		detectionsTotal.WithLabelValues(outcomeNone).Inc()
	}
	return res, nil
}

package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// CropperConfig sets the rectified output.
type CropperConfig struct {
	OutputWidth  int
	OutputHeight int
	Encoding     string
	JPEGQuality  int
	// EngineWait bounds how long a crop waits for the shared engine before
	// falling back to the built-in one.
	EngineWait time.Duration
}

// DefaultCropperConfig produces 800×500 (8:5) JPEG crops at quality 90.
func DefaultCropperConfig() CropperConfig {
	return CropperConfig{
		OutputWidth:  800,
		OutputHeight: 500,
		Encoding:     media.MIMEJPEG,
		JPEGQuality:  90,
		EngineWait:   2 * time.Second,
	}
}

// Validate checks output size and encoding.
func (c CropperConfig) Validate() error {
	if c.OutputWidth <= 0 || c.OutputHeight <= 0 {
		return fmt.Errorf("invalid output size %dx%d", c.OutputWidth, c.OutputHeight)
	}
	if _, err := media.NormalizeMIME(c.Encoding); err != nil {
		return err
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d out of range", c.JPEGQuality)
	}
	return nil
}

// EngineProvider hands out the shared vision engine.
type EngineProvider interface {
	Load(ctx context.Context) (vision.Engine, error)
}

// SnapshotSource can take a full-resolution still of what the user sees.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (media.EncodedImage, bool, error)
}

// Cropper turns a frame and a quadrilateral into a CapturedImage. It does
// no I/O of its own.
type Cropper struct {
	cfg      CropperConfig
	provider EngineProvider

	fallbackOnce sync.Once
	fallback     vision.Engine
	fallbackErr  error
}

// NewCropper returns a Cropper using provider's engine. When the engine is
// unavailable it falls back to the pure-Go contour engine so that forced
// captures still complete.
func NewCropper(cfg CropperConfig, provider EngineProvider) *Cropper {
	if cfg.Encoding == "" {
		cfg.Encoding = media.MIMEJPEG
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = DefaultCropperConfig().JPEGQuality
	}
	return &Cropper{cfg: cfg, provider: provider}
}

// Config returns the cropper configuration.
func (c *Cropper) Config() CropperConfig { return c.cfg }

func (c *Cropper) engine(ctx context.Context) (vision.Engine, error) {
	if c.provider != nil {
		wait := c.cfg.EngineWait
		if wait <= 0 {
			wait = DefaultCropperConfig().EngineWait
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		eng, err := c.provider.Load(waitCtx)
		cancel()
		if err == nil {
			return eng, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Debug("Cropping with built-in engine", "error", err)
	}
	c.fallbackOnce.Do(func() {
		c.fallback, c.fallbackErr = vision.New(vision.Config{
			Backend:     vision.BackendContour,
			JPEGQuality: c.cfg.JPEGQuality,
		})
	})
	return c.fallback, c.fallbackErr
}

// Crop rectifies quad out of frame into a fixed-size image and encodes it
// together with the display image. The display image is the frame's raw
// encoding when it carries one, else a snapshot from snap, else the
// re-encoded frame. snap may be nil.
func (c *Cropper) Crop(ctx context.Context, frame capture.Frame, quad geometry.Quad, snap SnapshotSource) (CapturedImage, error) {
	if err := quad.Validate(); err != nil {
		return CapturedImage{}, err
	}
	if frame.Empty() {
		return CapturedImage{}, &apperrors.CaptureError{Op: "crop", Cause: errors.New("no frame to crop")}
	}
	eng, err := c.engine(ctx)
	if err != nil {
		return CapturedImage{}, &apperrors.CaptureError{Op: "crop", Cause: err}
	}

	buf, err := eng.FrameToBuffer(frame.Image)
	if err != nil {
		return CapturedImage{}, err
	}
	defer buf.Release()

	oriented := quad.FitOrientation(c.cfg.OutputWidth, c.cfg.OutputHeight)
	out, err := eng.PerspectiveCrop(buf, oriented, c.cfg.OutputWidth, c.cfg.OutputHeight)
	if err != nil {
		return CapturedImage{}, err
	}
	defer out.Release()

	cropped, err := vision.EncodeImage(out.Image(), c.cfg.Encoding, c.cfg.JPEGQuality)
	if err != nil {
		return CapturedImage{}, err
	}

	display := frame.Raw
	if display.Empty() && snap != nil {
		d, ok, err := snap.Snapshot(ctx)
		if err != nil {
			slog.Warn("Snapshot failed, using analysed frame", "error", err)
		} else if ok {
			display = d
		}
	}
	if display.Empty() {
		display, err = vision.EncodeImage(buf.Image(), c.cfg.Encoding, c.cfg.JPEGQuality)
		if err != nil {
			return CapturedImage{}, err
		}
	}

	return CapturedImage{
		DisplayImage: display,
		CroppedImage: cropped,
		Quad:         quad,
		CapturedAt:   time.Now(),
	}, nil
}

// Package capture provides the frame sources feeding a scan: replayed image
// files, frames pushed over a stream, an in-memory mock for tests and, when
// built with the gocv tag, a local camera device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/media"
)

// Source kinds.
const (
	KindReplay = "replay"
	KindDevice = "device"
	KindStream = "stream"
)

// Default device settings.
const (
	DefaultWidth       = 1280
	DefaultHeight      = 720
	DefaultOpenTimeout = 5 * time.Second
)

// ErrNotOpen is returned when reading from a source that is not open.
var ErrNotOpen = errors.New("frame source is not open")

// Frame is one captured video frame. A zero Frame means the source has
// nothing to show yet.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
	// Raw is the producer's own encoding of Image, when it has one.
	Raw media.EncodedImage
}

// NewFrame wraps img with its dimensions and the current time.
func NewFrame(img image.Image) Frame {
	if img == nil {
		return Frame{Timestamp: time.Now()}
	}
	b := img.Bounds()
	return Frame{Image: img, Width: b.Dx(), Height: b.Dy(), Timestamp: time.Now()}
}

// Empty reports whether the frame has no pixels.
func (f Frame) Empty() bool { return f.Image == nil || f.Width <= 0 || f.Height <= 0 }

// Source is a camera-like producer of frames.
type Source interface {
	Open(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) (Frame, error)
	// Snapshot returns a full-resolution still if the source can take one.
	Snapshot(ctx context.Context) (media.EncodedImage, bool, error)
	IsOpen() bool
}

// Config selects and parameterizes a Source.
type Config struct {
	Kind        string
	Device      int
	Dir         string
	Loop        bool
	Width       int
	Height      int
	OpenTimeout time.Duration
}

// DefaultConfig replays frames from ./frames.
func DefaultConfig() Config {
	return Config{
		Kind:        KindReplay,
		Dir:         "frames",
		Loop:        true,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		OpenTimeout: DefaultOpenTimeout,
	}
}

// New builds the source described by cfg.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case KindReplay, "":
		return NewReplaySource(cfg.Dir, cfg.Loop), nil
	case KindStream:
		return NewStreamSource(), nil
	case KindDevice:
		return NewDevice(cfg), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Kind)
	}
}

func unavailable(reason apperrors.CameraReason, cause error) error {
	return &apperrors.CameraUnavailableError{Reason: reason, Cause: cause}
}

// classifyOpenError maps a device open failure onto a camera reason.
func classifyOpenError(err error) apperrors.CameraReason {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return apperrors.ReasonPermission
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return apperrors.ReasonBusy
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ReasonTimeout
	default:
		return apperrors.ReasonNoDevice
	}
}

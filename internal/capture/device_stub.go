//go:build !gocv

package capture

import (
	"context"
	"errors"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/media"
)

// ErrNoDeviceSupport is the cause reported when opening a device camera in a
// binary built without OpenCV.
var ErrNoDeviceSupport = errors.New("device cameras need a build with -tags gocv")

// Device is unavailable in this build.
type Device struct {
	cfg Config
}

// NewDevice returns a camera that always fails to open.
func NewDevice(cfg Config) Source {
	return &Device{cfg: cfg}
}

func (d *Device) Open(_ context.Context) error {
	return unavailable(apperrors.ReasonNoDevice, ErrNoDeviceSupport)
}

func (d *Device) Close() error { return nil }

func (d *Device) ReadFrame(_ context.Context) (Frame, error) { return Frame{}, ErrNotOpen }

func (d *Device) Snapshot(_ context.Context) (media.EncodedImage, bool, error) {
	return media.EncodedImage{}, false, ErrNotOpen
}

func (d *Device) IsOpen() bool { return false }

//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/media"
)

// Device captures from a local camera through OpenCV.
type Device struct {
	cfg Config

	mu      sync.Mutex
	capture *gocv.VideoCapture
	running bool
}

// NewDevice returns a closed camera for cfg.Device.
func NewDevice(cfg Config) Source {
	return &Device{cfg: cfg}
}

type openResult struct {
	capture *gocv.VideoCapture
	err     error
}

// Open opens the camera, giving up after cfg.OpenTimeout.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	timeout := d.cfg.OpenTimeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan openResult, 1)
	go func() {
		c, err := gocv.OpenVideoCapture(d.cfg.Device)
		ch <- openResult{capture: c, err: err}
	}()

	var res openResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.capture != nil {
				_ = r.capture.Close()
			}
		}()
		return unavailable(apperrors.ReasonTimeout, ctx.Err())
	}
	if res.err != nil {
		return unavailable(classifyOpenError(res.err), res.err)
	}
	if !res.capture.IsOpened() {
		_ = res.capture.Close()
		return unavailable(apperrors.ReasonNoDevice, fmt.Errorf("camera %d did not open", d.cfg.Device))
	}

	if d.cfg.Width > 0 && d.cfg.Height > 0 {
		res.capture.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
		res.capture.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
	}
	d.capture = res.capture
	d.running = true
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.capture == nil {
		d.running = false
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	d.running = false
	return err
}

// ReadFrame grabs one frame. An empty Mat, as delivered while the sensor
// warms up, yields an empty Frame.
func (d *Device) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	mat, err := d.read()
	if err != nil {
		return Frame{}, err
	}
	defer mat.Close()
	if mat.Empty() {
		return Frame{}, nil
	}
	img, err := mat.ToImage()
	if err != nil {
		return Frame{}, &apperrors.CaptureError{Op: "read_frame", Cause: err}
	}
	return NewFrame(img), nil
}

// Snapshot grabs a fresh frame and encodes it as JPEG at full resolution.
func (d *Device) Snapshot(ctx context.Context) (media.EncodedImage, bool, error) {
	if err := ctx.Err(); err != nil {
		return media.EncodedImage{}, false, err
	}
	mat, err := d.read()
	if err != nil {
		return media.EncodedImage{}, false, err
	}
	defer mat.Close()
	if mat.Empty() {
		return media.EncodedImage{}, false, nil
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, 95})
	if err != nil {
		return media.EncodedImage{}, false, &apperrors.CaptureError{Op: "snapshot", Cause: err}
	}
	defer buf.Close()
	data := append([]byte(nil), buf.GetBytes()...)
	return media.EncodedImage{MIMEType: media.MIMEJPEG, Data: data}, true, nil
}

func (d *Device) read() (gocv.Mat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.capture == nil {
		return gocv.Mat{}, ErrNotOpen
	}
	mat := gocv.NewMat()
	if ok := d.capture.Read(&mat); !ok {
		mat.Close()
		return gocv.Mat{}, &apperrors.CaptureError{Op: "read_frame", Cause: errors.New("failed to read frame from camera")}
	}
	return mat, nil
}

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

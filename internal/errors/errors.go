// Package errors defines the typed failures of the capture pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes pipeline failures for metrics, HTTP mapping and guidance.
type Kind string

const (
	KindEngineLoad        Kind = "engine_load"
	KindCameraUnavailable Kind = "camera_unavailable"
	KindInvalidGeometry   Kind = "invalid_geometry"
	KindCapture           Kind = "capture"
	KindCancelled         Kind = "cancelled"
	KindInternal          Kind = "internal"
)

// CameraReason says why the frame source could not be opened.
type CameraReason string

const (
	ReasonPermission CameraReason = "permission"
	ReasonNoDevice   CameraReason = "no_device"
	ReasonBusy       CameraReason = "busy"
	ReasonTimeout    CameraReason = "timeout"
)

// ErrCancelled is returned when the user closes the scan before a capture.
var ErrCancelled = errors.New("scan cancelled")

// EngineLoadError reports that the vision engine could not be initialized.
// It is sticky: once returned by a loader, the same error is returned forever.
type EngineLoadError struct {
	Backend string
	Cause   error
}

func (e *EngineLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vision engine %q failed to load: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("vision engine %q failed to load", e.Backend)
}

func (e *EngineLoadError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *EngineLoadError) Kind() Kind { return KindEngineLoad }

// CameraUnavailableError reports that the frame source refused to open.
type CameraUnavailableError struct {
	Reason CameraReason
	Cause  error
}

func (e *CameraUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("camera unavailable (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("camera unavailable (%s)", e.Reason)
}

func (e *CameraUnavailableError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *CameraUnavailableError) Kind() Kind { return KindCameraUnavailable }

// InvalidGeometryError reports a quadrilateral that cannot be cropped.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// Kind implements Kinded.
func (e *InvalidGeometryError) Kind() Kind { return KindInvalidGeometry }

// CaptureError wraps a failure while reading, cropping or encoding a frame.
type CaptureError struct {
	Op    string
	Cause error
}

func (e *CaptureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capture failed during %s: %v", e.Op, e.Cause)
	}
	return "capture failed during " + e.Op
}

func (e *CaptureError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *CaptureError) Kind() Kind { return KindCapture }

// Kinded is implemented by every typed error in this package.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the Kind of err, looking through wrapped errors.
// Unknown errors are KindInternal; nil has an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// StatusCode maps err to an HTTP status code.
func StatusCode(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindInvalidGeometry:
		return http.StatusUnprocessableEntity
	case KindEngineLoad, KindCameraUnavailable:
		return http.StatusServiceUnavailable
	case KindCapture:
		return http.StatusBadRequest
	case KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidGeometry builds an InvalidGeometryError from a format string.
func NewInvalidGeometry(format string, args ...any) *InvalidGeometryError {
	return &InvalidGeometryError{Reason: fmt.Sprintf(format, args...)}
}

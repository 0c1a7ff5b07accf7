// Package scan runs guided document capture: a per-side state machine polls
// the detector, fires exactly one capture, and a controller sequences sides
// and reports outcomes.
package scan

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
)

// Side of a document.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ParseSide validates s.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideFront, SideBack:
		return Side(s), nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// DocumentType identifies the document being scanned.
type DocumentType string

const (
	DocumentEmiratesID   DocumentType = "emirates_id"
	DocumentPhilippineID DocumentType = "philippines_id"
	DocumentPassport     DocumentType = "passport"
)

// Sides lists the sides to capture for d, in order.
func (d DocumentType) Sides() []Side {
	if d == DocumentPassport {
		return []Side{SideFront}
	}
	return []Side{SideFront, SideBack}
}

// ParseDocumentType validates s.
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case DocumentEmiratesID, DocumentPhilippineID, DocumentPassport:
		return DocumentType(s), nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// State of a capture state machine.
type State string

const (
	StateIdle      State = "idle"
	StateDetecting State = "detecting"
	StateReady     State = "ready"
	StateTimedOut  State = "timed_out"
	StateCaptured  State = "captured"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateCaptured || s == StateCancelled || s == StateFailed
}

// CapturedImage is the result of one side: the full frame as seen by the
// user and the perspective-corrected crop.
type CapturedImage struct {
	Side         Side               `json:"side"`
	DisplayImage media.EncodedImage `json:"-"`
	CroppedImage media.EncodedImage `json:"-"`
	Quad         geometry.Quad      `json:"quad"`
	Forced       bool               `json:"forced"`
	BlurScore    float64            `json:"blur_score"`
	CapturedAt   time.Time          `json:"captured_at"`
}

// Session is a snapshot of one side-scan.
type Session struct {
	ID               string       `json:"id"`
	Document         DocumentType `json:"document"`
	Side             Side         `json:"side"`
	State            State        `json:"state"`
	CaptureTriggered bool         `json:"capture_triggered"`
	DetectionActive  bool         `json:"detection_active"`
	StartedAt        time.Time    `json:"started_at"`
}

// Outcome is emitted once per session when it ends.
type Outcome struct {
	SessionID string         `json:"session_id"`
	Document  DocumentType   `json:"document"`
	Side      Side           `json:"side"`
	Image     *CapturedImage `json:"image,omitempty"`
	Err       error          `json:"-"`
	Duration  time.Duration  `json:"-"`
}

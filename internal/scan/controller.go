package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
)

// ControllerConfig configures a scan controller.
type ControllerConfig struct {
	Document DocumentType
	Machine  MachineConfig
	// AutoAdvanceDelay starts the back side this long after the front side
	// is captured. Zero disables auto-advance.
	AutoAdvanceDelay time.Duration
}

// DefaultControllerConfig scans an Emirates ID and advances after one second.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Document:         DocumentEmiratesID,
		Machine:          DefaultMachineConfig(),
		AutoAdvanceDelay: time.Second,
	}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithOnComplete registers a callback for every outcome.
func WithOnComplete(fn func(Outcome)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithDetectionListener receives every detection result of the active session.
func WithDetectionListener(fn func(Side, *detector.DetectionResult)) Option {
	return func(c *Controller) { c.onDetection = fn }
}

// WithResultsBuffer sets the channel capacity used by Results.
func WithResultsBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.resultsBuffer = n
		}
	}
}

type activeSession struct {
	id        string
	side      Side
	machine   *Machine
	startedAt time.Time
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// Status is a point-in-time view of the controller for UIs.
type Status struct {
	Document   DocumentType `json:"document"`
	CameraOpen bool         `json:"camera_open"`
	Active     *Session     `json:"active,omitempty"`
	Captured   []Side       `json:"captured"`
	Pending    []Side       `json:"pending"`
}

// Controller owns the camera and sequences one capture machine at a time.
type Controller struct {
	cfg    ControllerConfig
	source capture.Source
	det    FrameDetector
	crop   Capturer

	onComplete    func(Outcome)
	onDetection   func(Side, *detector.DetectionResult)
	resultsBuffer int

	mu         sync.Mutex
	active     *activeSession
	captured   map[Side]*CapturedImage
	advance    *time.Timer
	advanceGen uint64
	closed     bool

	subsMu sync.Mutex
	subs   map[chan Outcome]struct{}
}

// NewController wires a controller around source, det and crop.
func NewController(cfg ControllerConfig, source capture.Source, det FrameDetector, crop Capturer, opts ...Option) *Controller {
	if cfg.Document == "" {
		cfg.Document = DocumentEmiratesID
	}
	c := &Controller{
		cfg:           cfg,
		source:        source,
		det:           det,
		crop:          crop,
		resultsBuffer: 8,
		captured:      make(map[Side]*CapturedImage),
		subs:          make(map[chan Outcome]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Document returns the document type being scanned.
func (c *Controller) Document() DocumentType { return c.cfg.Document }

// StartScan tears down any active session, opens the camera and starts
// detecting side. It returns the new session ID. Camera failures are
// returned as *errors.CameraUnavailableError and also emitted as an outcome.
func (c *Controller) StartScan(ctx context.Context, side Side) (string, error) {
	if !slices.Contains(c.cfg.Document.Sides(), side) {
		return "", fmt.Errorf("%s has no %s side", c.cfg.Document, side)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", errors.New("controller is closed")
	}
	c.stopAdvanceLocked()
	c.teardownLocked("superseded")

	id := uuid.NewString()
	if !c.source.IsOpen() {
		if err := c.source.Open(ctx); err != nil {
			c.mu.Unlock()
			err = asCameraError(err)
			slog.Warn("Camera unavailable", "side", side, "error", err)
			sessionsTotal.WithLabelValues(string(apperrors.KindOf(err))).Inc()
			c.emit(Outcome{SessionID: id, Document: c.cfg.Document, Side: side, Err: err})
			return "", err
		}
	}

	baseCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(baseCtx)
	m := NewMachine(c.cfg.Machine, side, c.source, c.det, c.crop,
		WithDetectionHook(c.onDetection),
		WithDoneHook(func(img *CapturedImage, err error) { c.finish(id, img, err) }),
	)
	delete(c.captured, side)
	c.active = &activeSession{id: id, side: side, machine: m, startedAt: time.Now(), baseCtx: baseCtx, cancel: cancel}
	if err := m.Start(runCtx); err != nil {
		c.active = nil
		c.mu.Unlock()
		cancel()
		return "", err
	}
	activeSessions.Inc()
	c.mu.Unlock()

	slog.Info("Scan started", "session", id, "document", c.cfg.Document, "side", side)
	return id, nil
}

func asCameraError(err error) error {
	var camErr *apperrors.CameraUnavailableError
	if errors.As(err, &camErr) {
		return err
	}
	return &apperrors.CameraUnavailableError{Reason: apperrors.ReasonNoDevice, Cause: err}
}

// finish is called by a machine when it captures or fails.
func (c *Controller) finish(id string, img *CapturedImage, err error) {
	c.mu.Lock()
	a := c.active
	if a == nil || a.id != id {
		c.mu.Unlock()
		return
	}
	c.active = nil
	a.cancel()
	activeSessions.Dec()

	out := Outcome{
		SessionID: id,
		Document:  c.cfg.Document,
		Side:      a.side,
		Image:     img,
		Err:       err,
		Duration:  time.Since(a.startedAt),
	}
	sessionDuration.Observe(out.Duration.Seconds())
	if img != nil {
		c.captured[a.side] = img
		sessionsTotal.WithLabelValues("captured").Inc()
		c.scheduleAdvanceLocked(a.baseCtx, a.side)
	} else {
		sessionsTotal.WithLabelValues(string(apperrors.KindOf(err))).Inc()
	}
	c.mu.Unlock()

	c.emit(out)
}

// scheduleAdvanceLocked starts the next missing side after the configured delay.
func (c *Controller) scheduleAdvanceLocked(ctx context.Context, done Side) {
	if c.cfg.AutoAdvanceDelay <= 0 || done != SideFront {
		return
	}
	next := SideBack
	if !slices.Contains(c.cfg.Document.Sides(), next) || c.captured[next] != nil {
		return
	}
	c.advanceGen++
	gen := c.advanceGen
	c.advance = time.AfterFunc(c.cfg.AutoAdvanceDelay, func() {
		c.mu.Lock()
		stale := gen != c.advanceGen || c.active != nil || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		if _, err := c.StartScan(ctx, next); err != nil {
			slog.Warn("Auto-advance failed", "side", next, "error", err)
		}
	})
}

func (c *Controller) stopAdvanceLocked() {
	c.advanceGen++
	if c.advance != nil {
		c.advance.Stop()
		c.advance = nil
	}
}

// teardownLocked cancels the active session without emitting an outcome.
func (c *Controller) teardownLocked(reason string) *activeSession {
	a := c.active
	if a == nil {
		return nil
	}
	c.active = nil
	a.machine.Cancel()
	a.cancel()
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(reason).Inc()
	slog.Debug("Scan session ended", "session", a.id, "side", a.side, "reason", reason)
	return a
}

// Retake cancels any session for side and discards its stored image. The
// side is idle afterwards.
func (c *Controller) Retake(side Side) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAdvanceLocked()
	if c.active != nil && c.active.side == side {
		c.teardownLocked("retake")
	}
	delete(c.captured, side)
}

// Cancel closes the scan: it cancels the active session, releases the
// camera and emits ErrCancelled.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.stopAdvanceLocked()
	a := c.teardownLocked("cancelled")
	c.mu.Unlock()

	if err := c.source.Close(); err != nil {
		slog.Warn("Failed to release camera", "error", err)
	}

	out := Outcome{Document: c.cfg.Document, Err: apperrors.ErrCancelled}
	if a != nil {
		out.SessionID = a.id
		out.Side = a.side
		out.Duration = time.Since(a.startedAt)
	}
	c.emit(out)
}

// Captured returns the stored image for side.
func (c *Controller) Captured(side Side) (*CapturedImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.captured[side]
	return img, ok
}

// Complete reports whether every side of the document has been captured.
func (c *Controller) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.cfg.Document.Sides() {
		if c.captured[s] == nil {
			return false
		}
	}
	return true
}

// Snapshot returns the controller status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Document:   c.cfg.Document,
		CameraOpen: c.source.IsOpen(),
		Captured:   []Side{},
		Pending:    []Side{},
	}
	for _, s := range c.cfg.Document.Sides() {
		if c.captured[s] != nil {
			st.Captured = append(st.Captured, s)
		} else {
			st.Pending = append(st.Pending, s)
		}
	}
	if a := c.active; a != nil {
		st.Active = &Session{
			ID:               a.id,
			Document:         c.cfg.Document,
			Side:             a.side,
			State:            a.machine.State(),
			CaptureTriggered: a.machine.Triggered(),
			DetectionActive:  a.machine.DetectionActive(),
			StartedAt:        a.startedAt,
		}
	}
	return st
}

// Results subscribes to outcomes. The returned function unsubscribes.
// Outcomes are dropped for subscribers that fall behind.
func (c *Controller) Results() (<-chan Outcome, func()) {
	ch := make(chan Outcome, c.resultsBuffer)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) emit(out Outcome) {
	if c.onComplete != nil {
		c.onComplete(out)
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- out:
		default:
			slog.Warn("Dropping scan outcome for slow subscriber", "session", out.SessionID)
		}
	}
}

// Close cancels everything, releases the camera and closes all result
// channels. The controller cannot be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopAdvanceLocked()
	c.teardownLocked("closed")
	c.mu.Unlock()

	c.subsMu.Lock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.subsMu.Unlock()
	return c.source.Close()
}

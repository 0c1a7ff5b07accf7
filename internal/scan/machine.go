package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
)

// MachineConfig controls polling and the fallback capture.
type MachineConfig struct {
	PollInterval    time.Duration
	FallbackTimeout time.Duration
	// StabilityTicks is the number of consecutive positive detections
	// required before capturing. 1 captures on the first one.
	StabilityTicks int
}

// DefaultMachineConfig polls every 200 ms and forces a capture after 6 s.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		PollInterval:    200 * time.Millisecond,
		FallbackTimeout: 6 * time.Second,
		StabilityTicks:  1,
	}
}

// Validate checks intervals and the stability window.
func (c MachineConfig) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.FallbackTimeout <= 0 {
		return errors.New("fallback timeout must be positive")
	}
	if c.StabilityTicks < 1 {
		return fmt.Errorf("stability ticks must be >= 1, got %d", c.StabilityTicks)
	}
	return nil
}

// FrameDetector analyses one frame. *detector.Detector implements it.
type FrameDetector interface {
	DetectInFrame(ctx context.Context, frame capture.Frame) (*detector.DetectionResult, error)
}

// Capturer produces the captured image for a frame and quad. *Cropper
// implements it.
type Capturer interface {
	Crop(ctx context.Context, frame capture.Frame, quad geometry.Quad, snap SnapshotSource) (CapturedImage, error)
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithDetectionHook is called with every non-nil detection result, in tick
// order, from the polling goroutine.
func WithDetectionHook(fn func(Side, *detector.DetectionResult)) MachineOption {
	return func(m *Machine) { m.onDetection = fn }
}

// WithDoneHook is called once when the machine reaches Captured or Failed,
// or is cancelled through its context. An explicit Cancel does not call it.
// img is nil unless captured.
func WithDoneHook(fn func(img *CapturedImage, err error)) MachineOption {
	return func(m *Machine) { m.onDone = fn }
}

// Machine runs detection for one side until exactly one capture happens,
// the fallback fires, or it is cancelled.
type Machine struct {
	cfg    MachineConfig
	side   Side
	source capture.Source
	det    FrameDetector
	crop   Capturer

	onDetection func(Side, *detector.DetectionResult)
	onDone      func(*CapturedImage, error)

	triggered atomic.Bool
	active    atomic.Bool
	gen       atomic.Uint64
	ticks     atomic.Int64

	mu        sync.Mutex
	state     State
	stop      chan struct{}
	done      chan struct{}
	lastFrame capture.Frame
	result    *CapturedImage
	err       error
}

// NewMachine returns an idle machine.
func NewMachine(cfg MachineConfig, side Side, source capture.Source, det FrameDetector, crop Capturer, opts ...MachineOption) *Machine {
	if cfg.StabilityTicks < 1 {
		cfg.StabilityTicks = 1
	}
	m := &Machine{cfg: cfg, side: side, source: source, det: det, crop: crop, state: StateIdle}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start moves Idle to Detecting and starts polling. The machine stops on its
// own after capturing or failing, or when ctx ends or Cancel is called.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return fmt.Errorf("machine for %s side is %s, not idle", m.side, m.state)
	}
	gen := m.gen.Add(1)
	m.state = StateDetecting
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.triggered.Store(false)
	m.active.Store(true)
	go m.run(ctx, gen, m.stop, m.done)
	return nil
}

func (m *Machine) run(ctx context.Context, gen uint64, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	timer := time.NewTimer(m.cfg.FallbackTimeout)
	defer timer.Stop()

	streak := 0
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			if m.cancel() && m.onDone != nil {
				m.onDone(nil, apperrors.ErrCancelled)
			}
			return
		case <-ticker.C:
			if m.tick(ctx, gen, &streak) {
				return
			}
			// Drop the tick that queued up while this one ran.
			select {
			case <-ticker.C:
			default:
			}
		case <-timer.C:
			m.fallback(ctx, gen)
			return
		}
	}
}

// tick performs one poll. It reports whether polling is over.
func (m *Machine) tick(ctx context.Context, gen uint64, streak *int) bool {
	if m.gen.Load() != gen {
		return true
	}
	m.ticks.Add(1)
	ticksTotal.Inc()

	frame, err := m.source.ReadFrame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("Frame read failed", "side", m.side, "error", err)
		}
		*streak = 0
		return false
	}
	if !frame.Empty() {
		m.mu.Lock()
		m.lastFrame = frame
		m.mu.Unlock()
	}

	res, err := m.det.DetectInFrame(ctx, frame)
	if err != nil {
		slog.Debug("Detection failed", "side", m.side, "error", err)
		*streak = 0
		return false
	}
	if res == nil {
		*streak = 0
		return false
	}
	if m.gen.Load() != gen {
		return true
	}
	if m.onDetection != nil {
		m.onDetection(m.side, res)
	}
	if !res.Detected || res.Points == nil {
		*streak = 0
		return false
	}
	*streak++
	if *streak < m.cfg.StabilityTicks {
		return false
	}

	if !m.triggered.CompareAndSwap(false, true) {
		return false
	}
	if !m.transition(gen, StateDetecting, StateReady) {
		return true
	}
	m.capture(ctx, gen, frame, *res.Points, false, res.BlurScore)
	return true
}

// fallback forces a full-frame capture once the timeout fires.
func (m *Machine) fallback(ctx context.Context, gen uint64) {
	if !m.triggered.CompareAndSwap(false, true) {
		return
	}
	if !m.transition(gen, StateDetecting, StateTimedOut) {
		return
	}
	slog.Info("Detection timed out, forcing full-frame capture", "side", m.side)

	frame, err := m.source.ReadFrame(ctx)
	if err != nil || frame.Empty() {
		m.mu.Lock()
		frame = m.lastFrame
		m.mu.Unlock()
	}
	if frame.Empty() {
		m.fail(gen, &apperrors.CaptureError{Op: "fallback", Cause: errors.New("no frame available")}, true)
		return
	}
	m.capture(ctx, gen, frame, geometry.FullFrame(frame.Width, frame.Height), true, 0)
}

func (m *Machine) capture(ctx context.Context, gen uint64, frame capture.Frame, quad geometry.Quad, forced bool, blur float64) {
	img, err := m.crop.Crop(ctx, frame, quad, m.source)
	if err != nil {
		m.fail(gen, err, forced)
		return
	}
	img.Side = m.side
	img.Forced = forced
	img.BlurScore = blur

	m.mu.Lock()
	if m.gen.Load() != gen || m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateCaptured
	m.result = &img
	m.active.Store(false)
	m.mu.Unlock()

	capturesTotal.WithLabelValues(string(m.side), captureMode(forced), "success").Inc()
	slog.Info("Document captured", "side", m.side, "forced", forced, "quad", quad.String())
	if m.onDone != nil {
		m.onDone(&img, nil)
	}
}

// fail moves to Failed and clears the latch. Polling does not resume.
func (m *Machine) fail(gen uint64, err error, forced bool) {
	m.mu.Lock()
	if m.gen.Load() != gen || m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.err = err
	m.triggered.Store(false)
	m.active.Store(false)
	m.mu.Unlock()

	capturesTotal.WithLabelValues(string(m.side), captureMode(forced), "failed").Inc()
	slog.Warn("Capture failed", "side", m.side, "forced", forced, "error", err)
	if m.onDone != nil {
		m.onDone(nil, err)
	}
}

func (m *Machine) transition(gen uint64, from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen.Load() != gen || m.state != from {
		return false
	}
	m.state = to
	return true
}

// Cancel stops polling and the fallback timer and clears the latch. Results
// still in flight are discarded. It is a no-op once the machine has ended.
func (m *Machine) Cancel() { m.cancel() }

func (m *Machine) cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() || m.state == StateIdle {
		return false
	}
	m.gen.Add(1)
	close(m.stop)
	m.state = StateCancelled
	m.err = apperrors.ErrCancelled
	m.triggered.Store(false)
	m.active.Store(false)
	return true
}

// Done is closed when the polling goroutine has exited. It is nil before Start.
func (m *Machine) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the polling goroutine exits or ctx ends.
func (m *Machine) Wait(ctx context.Context) error {
	done := m.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the captured image or the terminal error.
func (m *Machine) Result() (*CapturedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Side returns the side this machine captures.
func (m *Machine) Side() Side { return m.side }

// Triggered reports whether the one-shot capture latch is set.
func (m *Machine) Triggered() bool { return m.triggered.Load() }

// DetectionActive reports whether polling is running.
func (m *Machine) DetectionActive() bool { return m.active.Load() }

// Ticks returns the number of polls performed.
func (m *Machine) Ticks() int { return int(m.ticks.Load()) }

func captureMode(forced bool) string {
	if forced {
		return "forced"
	}
	return "auto"
}

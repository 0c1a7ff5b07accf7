package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/idscan/internal/config"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// components are the pieces every command builds from the configuration.
type components struct {
	loader   *vision.Loader
	detector *detector.Detector
	cropper  *scan.Cropper
}

// newComponents starts loading the shared engine in the background and wires
// a detector and cropper to it.
func newComponents(cfg *config.Config) *components {
	loader := vision.Shared(cfg.ToEngineConfig())
	loader.Start()
	return &components{
		loader:   loader,
		detector: detector.New(cfg.ToDetectorConfig(), loader),
		cropper:  scan.NewCropper(cfg.ToCropperConfig(), loader),
	}
}

// waitEngine blocks until the engine is ready. One-shot commands use it so
// that the first image is not reported as undetected while loading.
func (c *components) waitEngine(ctx context.Context) error {
	if _, err := c.loader.Load(ctx); err != nil {
		return fmt.Errorf("vision engine unavailable: %w", err)
	}
	return nil
}

// openHistory opens the session store, or returns nil when history is off.
func openHistory(cfg *config.Config, disabled bool) (*store.Store, error) {
	if disabled || cfg.Store.Path == "" {
		return nil, nil
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}
	slog.Debug("Session history opened", "path", st.Path())
	return st, nil
}

// recordOutcome returns a callback that stores outcomes in st.
func recordOutcome(st *store.Store) func(context.Context, scan.Outcome) {
	return func(ctx context.Context, o scan.Outcome) {
		if err := st.RecordOutcome(ctx, o); err != nil {
			slog.Warn("Failed to record session", "session_id", o.SessionID, "error", err)
		}
	}
}

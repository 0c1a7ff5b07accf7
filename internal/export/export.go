// Package export writes finished scans to their destinations: a directory,
// a PDF bundle and Azure blob storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/idscan/internal/scan"
)

// Config selects the enabled sinks.
type Config struct {
	Dir         string
	PDF         bool
	PDFPassword string
	Azure       AzureConfig
}

// AzureConfig holds blob storage settings. An empty Account disables upload.
type AzureConfig struct {
	Account   string
	Key       string
	Container string
	// Endpoint overrides https://<account>.blob.core.windows.net.
	Endpoint string
}

// Sink receives the captured sides of one session.
type Sink interface {
	Name() string
	Export(ctx context.Context, sessionID string, images []scan.CapturedImage) error
}

// New builds the sinks enabled by cfg. With nothing enabled it returns an
// empty Multi.
func New(cfg Config) (Multi, error) {
	var sinks Multi
	if cfg.Dir != "" {
		sinks = append(sinks, NewDirSink(cfg.Dir))
		if cfg.PDF {
			sinks = append(sinks, NewPDFSink(cfg.Dir, cfg.PDFPassword))
		}
	}
	if cfg.Azure.Account != "" {
		b, err := NewBlobSink(cfg.Azure)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, b)
	}
	return sinks, nil
}

// Multi fans an export out to every sink and joins their errors.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string { return "multi" }

// Export implements Sink. Every sink runs even when an earlier one fails.
func (m Multi) Export(ctx context.Context, sessionID string, images []scan.CapturedImage) error {
	var errs []error
	for _, s := range m {
		start := time.Now()
		err := s.Export(ctx, sessionID, images)
		status := "success"
		if err != nil {
			status = "error"
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
		exportsTotal.WithLabelValues(s.Name(), status).Inc()
		exportDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		slog.Debug("Export finished", "sink", s.Name(), "session", sessionID, "status", status)
	}
	return errors.Join(errs...)
}

func baseName(sessionID string, side scan.Side, kind string) string {
	return fmt.Sprintf("%s_%s_%s", sessionID, side, kind)
}

func checkImages(images []scan.CapturedImage) error {
	if len(images) == 0 {
		return errors.New("no captured images")
	}
	for _, img := range images {
		if img.CroppedImage.Empty() {
			return fmt.Errorf("%s side has no cropped image", img.Side)
		}
	}
	return nil
}

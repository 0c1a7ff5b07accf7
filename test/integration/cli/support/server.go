package support

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// HTTPTestServerWrapper wraps httptest.Server around the real pipeline.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
	History    *store.Store
}

// startTestHTTPServer starts an in-process server with an in-memory history.
func (testCtx *TestContext) startTestHTTPServer(rl server.RateLimitConfig) error {
	if testCtx.HTTPTestServer != nil {
		return nil
	}
	hist, err := store.New(":memory:")
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	loader := vision.NewLoader(vision.DefaultConfig())
	loader.Start()

	cfg := server.Config{
		OverlayEnabled: true,
		RateLimit:      rl,
		Scan: scan.ControllerConfig{
			Document: scan.DocumentEmiratesID,
			Machine: scan.MachineConfig{
				PollInterval:    20 * time.Millisecond,
				FallbackTimeout: 5 * time.Second,
				StabilityTicks:  1,
			},
			AutoAdvanceDelay: 50 * time.Millisecond,
		},
	}
	srv, err := server.NewServer(cfg, server.Deps{
		Engine:   loader,
		Detector: detector.New(detector.DefaultConfig(), loader),
		Cropper:  scan.NewCropper(scan.DefaultCropperConfig(), loader),
		History:  hist,
		OnOutcome: func(ctx context.Context, o scan.Outcome) {
			_ = hist.RecordOutcome(ctx, o)
		},
	})
	if err != nil {
		_ = hist.Close()
		return err
	}
	if _, err := loader.Load(context.Background()); err != nil {
		_ = hist.Close()
		return err
	}

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(srv.Handler()),
		TestServer: srv,
		History:    hist,
	}
	return nil
}

// StopServer stops the in-process server if one is running.
func (testCtx *TestContext) StopServer() error {
	w := testCtx.HTTPTestServer
	if w == nil {
		return nil
	}
	testCtx.HTTPTestServer = nil
	_ = w.TestServer.Close()
	w.Server.Close()
	return w.History.Close()
}

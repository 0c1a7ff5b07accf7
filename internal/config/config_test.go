package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, vision.BackendContour, cfg.Engine.Backend)
	assert.Equal(t, "mobile", cfg.Detector.Profile)
	assert.InDelta(t, 15, cfg.Detector.MobileBlurThreshold, 0)
	assert.InDelta(t, 30, cfg.Detector.DesktopBlurThreshold, 0)
	assert.Equal(t, 200, cfg.Capture.PollIntervalMs)
	assert.Equal(t, 6000, cfg.Capture.FallbackTimeoutMs)
	assert.Equal(t, 1, cfg.Capture.StabilityTicks)
	assert.Equal(t, 800, cfg.Capture.OutputWidth)
	assert.Equal(t, 500, cfg.Capture.OutputHeight)
	assert.Equal(t, 90, cfg.Capture.JPEGQuality)
	assert.Equal(t, 1000, cfg.Capture.AutoAdvanceDelayMs)
	assert.Equal(t, capture.KindReplay, cfg.Camera.Source)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"backend", func(c *Config) { c.Engine.Backend = "tesseract" }},
		{"detect size", func(c *Config) { c.Engine.MaxDetectSize = 0 }},
		{"gpu device", func(c *Config) { c.Engine.GPU.Enabled = true; c.Engine.GPU.DeviceID = -1 }},
		{"gpu memory", func(c *Config) { c.Engine.GPU.MemLimitMB = -1 }},
		{"profile", func(c *Config) { c.Detector.Profile = "tablet" }},
		{"area ratio", func(c *Config) { c.Detector.MinAreaRatio = 1.5 }},
		{"aspect range", func(c *Config) { c.Detector.MaxAspect = 1.0 }},
		{"document", func(c *Config) { c.Capture.Document = "drivers_license" }},
		{"poll interval", func(c *Config) { c.Capture.PollIntervalMs = 0 }},
		{"stability", func(c *Config) { c.Capture.StabilityTicks = 0 }},
		{"encoding", func(c *Config) { c.Capture.Encoding = "gif" }},
		{"quality", func(c *Config) { c.Capture.JPEGQuality = 0 }},
		{"output size", func(c *Config) { c.Capture.OutputWidth = -1 }},
		{"advance delay", func(c *Config) { c.Capture.AutoAdvanceDelayMs = -5 }},
		{"camera source", func(c *Config) { c.Camera.Source = "usb" }},
		{"open timeout", func(c *Config) { c.Camera.OpenTimeoutMs = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }},
		{"azure container", func(c *Config) { c.Export.Azure.Account = "acct"; c.Export.Azure.Container = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.ModelPath = "models/doc.onnx"
	cfg.Engine.GPU.Enabled = true
	cfg.Engine.GPU.MemLimitMB = 512
	cfg.Detector.Profile = "desktop"
	cfg.Capture.PollIntervalMs = 100
	cfg.Capture.Encoding = "png"
	cfg.Capture.Document = "passport"
	cfg.Camera.Source = capture.KindStream
	cfg.Export.PDF = true
	cfg.Export.Azure.Account = "acct"

	eng := cfg.ToEngineConfig()
	assert.Equal(t, "models/doc.onnx", eng.ModelPath)
	assert.InDelta(t, 0.15, eng.MinAreaRatio, 1e-9)
	assert.True(t, eng.GPU.Enabled)
	assert.Equal(t, uint64(512<<20), eng.GPU.MemLimit)
	assert.Equal(t, "kNextPowerOfTwo", eng.GPU.ArenaExtendStrategy)

	det := cfg.ToDetectorConfig()
	assert.Equal(t, detector.ProfileDesktop, det.Profile)
	assert.InDelta(t, 30, det.BlurThreshold(), 0)
	assert.Equal(t, 200*time.Millisecond, det.Budget)

	mc := cfg.ToMachineConfig()
	assert.Equal(t, 100*time.Millisecond, mc.PollInterval)
	assert.Equal(t, 6*time.Second, mc.FallbackTimeout)

	assert.Equal(t, media.MIMEPNG, cfg.ToCropperConfig().Encoding)

	ctrl := cfg.ToControllerConfig()
	assert.Equal(t, scan.DocumentPassport, ctrl.Document)
	assert.Equal(t, time.Second, ctrl.AutoAdvanceDelay)

	cam := cfg.ToCaptureConfig()
	assert.Equal(t, capture.KindStream, cam.Kind)
	assert.Equal(t, 5*time.Second, cam.OpenTimeout)

	exp := cfg.ToExportConfig()
	assert.True(t, exp.PDF)
	assert.Equal(t, "acct", exp.Azure.Account)
	assert.Equal(t, "captures", exp.Azure.Container)
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Export.PDFPassword = "hunter2"
	cfg.Export.Azure.Key = "c2VjcmV0"

	out := cfg.Redacted()
	assert.Equal(t, redacted, out.Export.PDFPassword)
	assert.Equal(t, redacted, out.Export.Azure.Key)
	assert.Equal(t, "hunter2", cfg.Export.PDFPassword, "original untouched")

	empty := DefaultConfig().Redacted()
	assert.Empty(t, empty.Export.PDFPassword)
	assert.Empty(t, empty.Export.Azure.Key)
}

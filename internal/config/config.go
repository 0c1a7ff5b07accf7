package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/export"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// Config represents the complete configuration for idscan.
// It covers every command (detect, crop, scan, serve, history) and is loaded
// from configuration files, environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine" json:"engine"`
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture" json:"capture"`
	Camera   CameraConfig   `mapstructure:"camera" yaml:"camera" json:"camera"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Export   ExportConfig   `mapstructure:"export" yaml:"export" json:"export"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store" json:"store"`
}

// EngineConfig selects the vision backend.
type EngineConfig struct {
	Backend       string    `mapstructure:"backend" yaml:"backend" json:"backend"`
	ModelPath     string    `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath   string    `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	MaxDetectSize int       `mapstructure:"max_detect_size" yaml:"max_detect_size" json:"max_detect_size"`
	NumThreads    int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	GPU           GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// GPUConfig enables CUDA for the onnx backend.
type GPUConfig struct {
	Enabled             bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DeviceID            int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"`
	MemLimitMB          int    `mapstructure:"mem_limit_mb" yaml:"mem_limit_mb" json:"mem_limit_mb"`
	ArenaExtendStrategy string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	ConvAlgoSearch      string `mapstructure:"conv_algo_search" yaml:"conv_algo_search" json:"conv_algo_search"`
}

// DetectorConfig contains document acceptance settings.
type DetectorConfig struct {
	Profile              string  `mapstructure:"profile" yaml:"profile" json:"profile"`
	MobileBlurThreshold  float64 `mapstructure:"mobile_blur_threshold" yaml:"mobile_blur_threshold" json:"mobile_blur_threshold"`
	DesktopBlurThreshold float64 `mapstructure:"desktop_blur_threshold" yaml:"desktop_blur_threshold" json:"desktop_blur_threshold"`
	BudgetMs             int     `mapstructure:"budget_ms" yaml:"budget_ms" json:"budget_ms"`
	MinAreaRatio         float64 `mapstructure:"min_area_ratio" yaml:"min_area_ratio" json:"min_area_ratio"`
	MinAspect            float64 `mapstructure:"min_aspect" yaml:"min_aspect" json:"min_aspect"`
	MaxAspect            float64 `mapstructure:"max_aspect" yaml:"max_aspect" json:"max_aspect"`
	ApproxEpsilon        float64 `mapstructure:"approx_epsilon" yaml:"approx_epsilon" json:"approx_epsilon"`
	MaskThreshold        float64 `mapstructure:"mask_threshold" yaml:"mask_threshold" json:"mask_threshold"`
}

// CaptureConfig contains capture timing and output settings.
type CaptureConfig struct {
	Document           string `mapstructure:"document" yaml:"document" json:"document"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms" json:"poll_interval_ms"`
	FallbackTimeoutMs  int    `mapstructure:"fallback_timeout_ms" yaml:"fallback_timeout_ms" json:"fallback_timeout_ms"`
	StabilityTicks     int    `mapstructure:"stability_ticks" yaml:"stability_ticks" json:"stability_ticks"`
	OutputWidth        int    `mapstructure:"output_width" yaml:"output_width" json:"output_width"`
	OutputHeight       int    `mapstructure:"output_height" yaml:"output_height" json:"output_height"`
	Encoding           string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	JPEGQuality        int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	AutoAdvanceDelayMs int    `mapstructure:"auto_advance_delay_ms" yaml:"auto_advance_delay_ms" json:"auto_advance_delay_ms"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Source        string `mapstructure:"source" yaml:"source" json:"source"`
	Device        int    `mapstructure:"device" yaml:"device" json:"device"`
	Dir           string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Loop          bool   `mapstructure:"loop" yaml:"loop" json:"loop"`
	Width         int    `mapstructure:"width" yaml:"width" json:"width"`
	Height        int    `mapstructure:"height" yaml:"height" json:"height"`
	OpenTimeoutMs int    `mapstructure:"open_timeout_ms" yaml:"open_timeout_ms" json:"open_timeout_ms"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	OverlayEnabled  bool            `mapstructure:"overlay_enabled" yaml:"overlay_enabled" json:"overlay_enabled"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits for the server.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// ExportConfig selects where captured images are written.
type ExportConfig struct {
	Dir         string      `mapstructure:"dir" yaml:"dir" json:"dir"`
	PDF         bool        `mapstructure:"pdf" yaml:"pdf" json:"pdf"`
	PDFPassword string      `mapstructure:"pdf_password" yaml:"pdf_password" json:"-"`
	Azure       AzureConfig `mapstructure:"azure" yaml:"azure" json:"azure"`
}

// AzureConfig holds blob storage credentials. An empty account disables upload.
type AzureConfig struct {
	Account   string `mapstructure:"account" yaml:"account" json:"account"`
	Key       string `mapstructure:"key" yaml:"key" json:"-"`
	Container string `mapstructure:"container" yaml:"container" json:"container"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// StoreConfig locates the scan history database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	eng := vision.DefaultConfig()
	det := detector.DefaultConfig()
	mc := scan.DefaultMachineConfig()
	cc := scan.DefaultCropperConfig()
	cam := capture.DefaultConfig()
	ctrl := scan.DefaultControllerConfig()

	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Backend:       eng.Backend,
			MaxDetectSize: eng.MaxDetectSize,
			GPU: GPUConfig{
				ArenaExtendStrategy: eng.GPU.ArenaExtendStrategy,
				ConvAlgoSearch:      eng.GPU.ConvAlgoSearch,
			},
		},
		Detector: DetectorConfig{
			Profile:              string(det.Profile),
			MobileBlurThreshold:  det.MobileBlurThreshold,
			DesktopBlurThreshold: det.DesktopBlurThreshold,
			BudgetMs:             int(det.Budget / time.Millisecond),
			MinAreaRatio:         eng.MinAreaRatio,
			MinAspect:            eng.MinAspect,
			MaxAspect:            eng.MaxAspect,
			ApproxEpsilon:        eng.ApproxEpsilon,
			MaskThreshold:        eng.MaskThreshold,
		},
		Capture: CaptureConfig{
			Document:           string(ctrl.Document),
			PollIntervalMs:     int(mc.PollInterval / time.Millisecond),
			FallbackTimeoutMs:  int(mc.FallbackTimeout / time.Millisecond),
			StabilityTicks:     mc.StabilityTicks,
			OutputWidth:        cc.OutputWidth,
			OutputHeight:       cc.OutputHeight,
			Encoding:           "jpeg",
			JPEGQuality:        cc.JPEGQuality,
			AutoAdvanceDelayMs: int(ctrl.AutoAdvanceDelay / time.Millisecond),
		},
		Camera: CameraConfig{
			Source:        cam.Kind,
			Device:        cam.Device,
			Dir:           cam.Dir,
			Loop:          cam.Loop,
			Width:         cam.Width,
			Height:        cam.Height,
			OpenTimeoutMs: int(cam.OpenTimeout / time.Millisecond),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			OverlayEnabled:  true,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 120,
				RequestsPerHour:   3000,
				MaxRequestsPerDay: 20000,
				MaxDataPerDayMB:   2048,
			},
		},
		Export: ExportConfig{
			Dir: "captures",
			Azure: AzureConfig{
				Container: "captures",
			},
		},
		Store: StoreConfig{
			Path: "idscan.db",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if !slices.Contains(vision.Backends(), c.Engine.Backend) {
		return fmt.Errorf("invalid engine backend: %s (available: %s)", c.Engine.Backend, strings.Join(vision.Backends(), ", "))
	}
	if c.Engine.MaxDetectSize <= 0 {
		return fmt.Errorf("invalid engine.max_detect_size: %d (must be positive)", c.Engine.MaxDetectSize)
	}
	if c.Engine.GPU.MemLimitMB < 0 {
		return fmt.Errorf("invalid engine.gpu.mem_limit_mb: %d (must not be negative)", c.Engine.GPU.MemLimitMB)
	}
	if err := c.ToEngineConfig().GPU.Validate(); err != nil {
		return fmt.Errorf("invalid engine.gpu: %w", err)
	}

	if err := c.ToDetectorConfig().Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}
	if err := validateRatio(c.Detector.MinAreaRatio, "detector.min_area_ratio"); err != nil {
		return err
	}
	if err := validateRatio(c.Detector.MaskThreshold, "detector.mask_threshold"); err != nil {
		return err
	}
	if c.Detector.MinAspect <= 0 || c.Detector.MaxAspect < c.Detector.MinAspect {
		return fmt.Errorf("invalid aspect range: %.2f..%.2f", c.Detector.MinAspect, c.Detector.MaxAspect)
	}

	if _, err := scan.ParseDocumentType(c.Capture.Document); err != nil {
		return fmt.Errorf("invalid capture.document: %w", err)
	}
	if err := c.ToMachineConfig().Validate(); err != nil {
		return fmt.Errorf("invalid capture config: %w", err)
	}
	if err := c.ToCropperConfig().Validate(); err != nil {
		return fmt.Errorf("invalid capture config: %w", err)
	}
	if c.Capture.AutoAdvanceDelayMs < 0 {
		return fmt.Errorf("invalid capture.auto_advance_delay_ms: %d (must not be negative)", c.Capture.AutoAdvanceDelayMs)
	}

	validSources := []string{capture.KindReplay, capture.KindDevice, capture.KindStream}
	if !slices.Contains(validSources, c.Camera.Source) {
		return fmt.Errorf("invalid camera source: %s (must be one of: %s)", c.Camera.Source, strings.Join(validSources, ", "))
	}
	if c.Camera.OpenTimeoutMs <= 0 {
		return fmt.Errorf("invalid camera.open_timeout_ms: %d (must be positive)", c.Camera.OpenTimeoutMs)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	if c.Export.Azure.Account != "" && c.Export.Azure.Container == "" {
		return errors.New("export.azure.container is required when an account is set")
	}
	return nil
}

// ToEngineConfig converts to vision.Config.
func (c *Config) ToEngineConfig() vision.Config {
	cfg := vision.DefaultConfig()
	cfg.Backend = c.Engine.Backend
	cfg.ModelPath = c.Engine.ModelPath
	cfg.LibraryPath = c.Engine.LibraryPath
	cfg.MaxDetectSize = c.Engine.MaxDetectSize
	cfg.NumThreads = c.Engine.NumThreads
	cfg.GPU = vision.GPUConfig{
		Enabled:             c.Engine.GPU.Enabled,
		DeviceID:            c.Engine.GPU.DeviceID,
		MemLimit:            uint64(max(c.Engine.GPU.MemLimitMB, 0)) * 1024 * 1024,
		ArenaExtendStrategy: c.Engine.GPU.ArenaExtendStrategy,
		ConvAlgoSearch:      c.Engine.GPU.ConvAlgoSearch,
	}
	cfg.JPEGQuality = c.Capture.JPEGQuality
	cfg.MinAreaRatio = c.Detector.MinAreaRatio
	cfg.MinAspect = c.Detector.MinAspect
	cfg.MaxAspect = c.Detector.MaxAspect
	cfg.ApproxEpsilon = c.Detector.ApproxEpsilon
	cfg.MaskThreshold = c.Detector.MaskThreshold
	return cfg
}

// ToDetectorConfig converts to detector.Config.
func (c *Config) ToDetectorConfig() detector.Config {
	return detector.Config{
		Profile:              detector.Profile(c.Detector.Profile),
		MobileBlurThreshold:  c.Detector.MobileBlurThreshold,
		DesktopBlurThreshold: c.Detector.DesktopBlurThreshold,
		Budget:               millis(c.Detector.BudgetMs),
	}
}

// ToMachineConfig converts to scan.MachineConfig.
func (c *Config) ToMachineConfig() scan.MachineConfig {
	return scan.MachineConfig{
		PollInterval:    millis(c.Capture.PollIntervalMs),
		FallbackTimeout: millis(c.Capture.FallbackTimeoutMs),
		StabilityTicks:  c.Capture.StabilityTicks,
	}
}

// ToCropperConfig converts to scan.CropperConfig.
func (c *Config) ToCropperConfig() scan.CropperConfig {
	cfg := scan.DefaultCropperConfig()
	cfg.OutputWidth = c.Capture.OutputWidth
	cfg.OutputHeight = c.Capture.OutputHeight
	cfg.JPEGQuality = c.Capture.JPEGQuality
	cfg.Encoding = c.Capture.Encoding
	if mime, err := media.NormalizeMIME(c.Capture.Encoding); err == nil {
		cfg.Encoding = mime
	}
	return cfg
}

// ToControllerConfig converts to scan.ControllerConfig.
func (c *Config) ToControllerConfig() scan.ControllerConfig {
	return scan.ControllerConfig{
		Document:         scan.DocumentType(c.Capture.Document),
		Machine:          c.ToMachineConfig(),
		AutoAdvanceDelay: millis(c.Capture.AutoAdvanceDelayMs),
	}
}

// ToCaptureConfig converts to capture.Config.
func (c *Config) ToCaptureConfig() capture.Config {
	return capture.Config{
		Kind:        c.Camera.Source,
		Device:      c.Camera.Device,
		Dir:         c.Camera.Dir,
		Loop:        c.Camera.Loop,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		OpenTimeout: millis(c.Camera.OpenTimeoutMs),
	}
}

// ToExportConfig converts to export.Config.
func (c *Config) ToExportConfig() export.Config {
	return export.Config{
		Dir:         c.Export.Dir,
		PDF:         c.Export.PDF,
		PDFPassword: c.Export.PDFPassword,
		Azure: export.AzureConfig{
			Account:   c.Export.Azure.Account,
			Key:       c.Export.Azure.Key,
			Container: c.Export.Azure.Container,
			Endpoint:  c.Export.Azure.Endpoint,
		},
	}
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// validateRatio validates that a value is between 0.0 and 1.0.
func validateRatio(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

const redacted = "********"

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	if c.Export.PDFPassword != "" {
		c.Export.PDFPassword = redacted
	}
	if c.Export.Azure.Key != "" {
		c.Export.Azure.Key = redacted
	}
	return c
}

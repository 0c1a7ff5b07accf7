package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "idscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the root command are honoured.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on v. Tests use a fresh instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first config file found on the search path, applies
// environment overrides and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.prepare()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.prepare()
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) prepare() {
	l.setupEnvironmentVariables()
	l.setDefaults()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// IDSCAN_CAPTURE_POLL_INTERVAL_MS sets capture.poll_interval_ms.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that env vars and Unmarshal see it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("engine.backend", d.Engine.Backend)
	l.v.SetDefault("engine.model_path", d.Engine.ModelPath)
	l.v.SetDefault("engine.library_path", d.Engine.LibraryPath)
	l.v.SetDefault("engine.max_detect_size", d.Engine.MaxDetectSize)
	l.v.SetDefault("engine.num_threads", d.Engine.NumThreads)
	l.v.SetDefault("engine.gpu.enabled", d.Engine.GPU.Enabled)
	l.v.SetDefault("engine.gpu.device_id", d.Engine.GPU.DeviceID)
	l.v.SetDefault("engine.gpu.mem_limit_mb", d.Engine.GPU.MemLimitMB)
	l.v.SetDefault("engine.gpu.arena_extend_strategy", d.Engine.GPU.ArenaExtendStrategy)
	l.v.SetDefault("engine.gpu.conv_algo_search", d.Engine.GPU.ConvAlgoSearch)

	l.v.SetDefault("detector.profile", d.Detector.Profile)
	l.v.SetDefault("detector.mobile_blur_threshold", d.Detector.MobileBlurThreshold)
	l.v.SetDefault("detector.desktop_blur_threshold", d.Detector.DesktopBlurThreshold)
	l.v.SetDefault("detector.budget_ms", d.Detector.BudgetMs)
	l.v.SetDefault("detector.min_area_ratio", d.Detector.MinAreaRatio)
	l.v.SetDefault("detector.min_aspect", d.Detector.MinAspect)
	l.v.SetDefault("detector.max_aspect", d.Detector.MaxAspect)
	l.v.SetDefault("detector.approx_epsilon", d.Detector.ApproxEpsilon)
	l.v.SetDefault("detector.mask_threshold", d.Detector.MaskThreshold)

	l.v.SetDefault("capture.document", d.Capture.Document)
	l.v.SetDefault("capture.poll_interval_ms", d.Capture.PollIntervalMs)
	l.v.SetDefault("capture.fallback_timeout_ms", d.Capture.FallbackTimeoutMs)
	l.v.SetDefault("capture.stability_ticks", d.Capture.StabilityTicks)
	l.v.SetDefault("capture.output_width", d.Capture.OutputWidth)
	l.v.SetDefault("capture.output_height", d.Capture.OutputHeight)
	l.v.SetDefault("capture.encoding", d.Capture.Encoding)
	l.v.SetDefault("capture.jpeg_quality", d.Capture.JPEGQuality)
	l.v.SetDefault("capture.auto_advance_delay_ms", d.Capture.AutoAdvanceDelayMs)

	l.v.SetDefault("camera.source", d.Camera.Source)
	l.v.SetDefault("camera.device", d.Camera.Device)
	l.v.SetDefault("camera.dir", d.Camera.Dir)
	l.v.SetDefault("camera.loop", d.Camera.Loop)
	l.v.SetDefault("camera.width", d.Camera.Width)
	l.v.SetDefault("camera.height", d.Camera.Height)
	l.v.SetDefault("camera.open_timeout_ms", d.Camera.OpenTimeoutMs)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.overlay_enabled", d.Server.OverlayEnabled)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	l.v.SetDefault("export.dir", d.Export.Dir)
	l.v.SetDefault("export.pdf", d.Export.PDF)
	l.v.SetDefault("export.pdf_password", d.Export.PDFPassword)
	l.v.SetDefault("export.azure.account", d.Export.Azure.Account)
	l.v.SetDefault("export.azure.key", d.Export.Azure.Key)
	l.v.SetDefault("export.azure.container", d.Export.Azure.Container)
	l.v.SetDefault("export.azure.endpoint", d.Export.Azure.Endpoint)

	l.v.SetDefault("store.path", d.Store.Path)
}

// GetResolvedConfig returns the current resolved settings for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", "idscan"))
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, "idscan"))
	}
	return append(paths, "/etc/idscan")
}

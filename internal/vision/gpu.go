package vision

import (
	"fmt"
	"log/slog"
	"strconv"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// GPUConfig enables the CUDA execution provider for the onnx backend.
type GPUConfig struct {
	Enabled  bool
	DeviceID int
	// MemLimit caps the CUDA arena in bytes. Zero is unlimited.
	MemLimit            uint64
	ArenaExtendStrategy string // "kNextPowerOfTwo" or "kSameAsRequested"
	ConvAlgoSearch      string // "EXHAUSTIVE", "HEURISTIC" or "DEFAULT"
}

// DefaultGPUConfig returns a disabled GPU configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy: "kNextPowerOfTwo",
		ConvAlgoSearch:      "DEFAULT",
	}
}

// Validate checks the GPU settings. A disabled config is always valid.
func (g GPUConfig) Validate() error {
	if !g.Enabled {
		return nil
	}
	if g.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", g.DeviceID)
	}
	switch g.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s (must be 'kNextPowerOfTwo' or 'kSameAsRequested')",
			g.ArenaExtendStrategy)
	}
	switch g.ConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s (must be 'EXHAUSTIVE', 'HEURISTIC', or 'DEFAULT')",
			g.ConvAlgoSearch)
	}
	return nil
}

// cudaSettings returns the provider options for g.
func (g GPUConfig) cudaSettings() map[string]string {
	s := map[string]string{
		"device_id":                 strconv.Itoa(g.DeviceID),
		"do_copy_in_default_stream": "1",
	}
	if g.MemLimit > 0 {
		s["gpu_mem_limit"] = strconv.FormatUint(g.MemLimit, 10)
	}
	if g.ArenaExtendStrategy != "" {
		s["arena_extend_strategy"] = g.ArenaExtendStrategy
	}
	if g.ConvAlgoSearch != "" {
		s["cudnn_conv_algo_search"] = g.ConvAlgoSearch
	}
	return s
}

// configureGPU appends the CUDA provider to opts. The session keeps running
// on the CPU provider when this fails.
func configureGPU(opts *onnxrt.SessionOptions, g GPUConfig) error {
	if !g.Enabled {
		return nil
	}
	cuda, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cuda.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()
	if err := cuda.Update(g.cudaSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

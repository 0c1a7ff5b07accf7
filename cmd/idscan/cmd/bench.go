package cmd

import (
	"encoding/json"
	"fmt"
	"image/color"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/benchmark"
	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// benchReport is the JSON output of bench.
type benchReport struct {
	Backend    string             `json:"backend"`
	Iterations int                `json:"iterations"`
	Results    []benchmark.Result `json:"results"`
}

var benchCmd = &cobra.Command{
	Use:   "bench [image...]",
	Short: "Time detection and cropping against the frame budget",
	Long: `Run detection and cropping repeatedly on still frames and report timings.

Detection is checked against the configured per-frame budget. Without
images a set of synthetic card frames is used.

Examples:
  idscan bench
  idscan bench card.jpg -n 50
  idscan bench --no-crop --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		format, _ := cmd.Flags().GetString("format")
		noCrop, _ := cmd.Flags().GetBool("no-crop")

		if iterations < 1 {
			return fmt.Errorf("iterations must be positive, got %d", iterations)
		}
		validFormats := []string{outputFormatText, outputFormatJSON}
		if !slices.Contains(validFormats, format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(validFormats, ", "))
		}

		frames, err := benchFrames(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		comp := newComponents(cfg)
		if err := comp.waitEngine(ctx); err != nil {
			return err
		}

		var crop scan.Capturer
		if !noCrop {
			crop = comp.cropper
		}
		suite := benchmark.NewSuite()
		err = benchmark.AddPipeline(ctx, suite, comp.detector, crop, cfg.ToDetectorConfig().Budget, frames)
		if err != nil {
			return err
		}
		results := suite.RunAll(ctx, iterations)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("benchmark interrupted: %w", err)
		}

		w := cmd.OutOrStdout()
		if format == outputFormatJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(benchReport{Backend: comp.loader.Backend(), Iterations: iterations, Results: results})
		}
		_, _ = fmt.Fprintf(w, "Engine: %s\n", comp.loader.Backend())
		suite.WriteResults(w)
		return nil
	},
}

// benchFrames loads the given images, or renders synthetic frames when
// there are none.
func benchFrames(paths []string) ([]benchmark.Frame, error) {
	if len(paths) == 0 {
		return syntheticFrames(), nil
	}
	frames := make([]benchmark.Frame, 0, len(paths))
	for _, p := range paths {
		if !utils.IsSupportedImage(p) {
			return nil, fmt.Errorf("unsupported image format: %s", p)
		}
		img, err := utils.LoadImage(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", p, err)
		}
		frames = append(frames, benchmark.Frame{Name: filepath.Base(p), Frame: capture.NewFrame(img)})
	}
	return frames, nil
}

func syntheticFrames() []benchmark.Frame {
	straight := testutil.DefaultCardConfig()

	tilted := straight
	tilted.Rotation = 9
	tilted.Skew = 30

	blurry := straight
	blurry.BlurSigma = 8

	frames := make([]benchmark.Frame, 0, 4)
	for _, c := range []struct {
		name string
		cfg  testutil.CardConfig
	}{{"card", straight}, {"tilted", tilted}, {"blurry", blurry}} {
		img, _ := testutil.GenerateCard(c.cfg)
		frames = append(frames, benchmark.Frame{Name: c.name, Frame: capture.NewFrame(img)})
	}
	blank := testutil.BlankFrame(straight.FrameWidth, straight.FrameHeight, color.NRGBA{R: 40, G: 42, B: 48, A: 255})
	return append(frames, benchmark.Frame{Name: "empty", Frame: capture.NewFrame(blank)})
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("iterations", "n", 10, "iterations per benchmark")
	benchCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	benchCmd.Flags().Bool("no-crop", false, "only benchmark detection")
}

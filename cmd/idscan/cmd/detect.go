package cmd

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/utils"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
	outputFormatYAML = "yaml"
)

var overlayColor = color.RGBA{R: 0, G: 200, B: 80, A: 255}

// fileDetection is one line of detect output.
type fileDetection struct {
	File   string                    `json:"file"`
	Result *detector.DetectionResult `json:"result"`
}

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect [image...]",
	Short: "Detect ID documents in images",
	Long: `Detect an ID document in each image and report its corners and sharpness.

Corners are printed clockwise from the top-left in frame pixels and can be
passed to "idscan crop --quad".

Supported formats: JPEG, PNG, BMP, WEBP

Examples:
  idscan detect card.jpg
  idscan detect *.png --format json
  idscan detect card.jpg --overlay-dir overlays --profile desktop`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		overlayDir, _ := cmd.Flags().GetString("overlay-dir")
		if cmd.Flags().Changed("profile") {
			p, _ := cmd.Flags().GetString("profile")
			cfg.Detector.Profile = p
		}

		validFormats := []string{outputFormatText, outputFormatJSON}
		if !slices.Contains(validFormats, format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(validFormats, ", "))
		}
		detCfg := cfg.ToDetectorConfig()
		if err := detCfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		comp := newComponents(cfg)
		comp.detector = detector.New(detCfg, comp.loader)
		if err := comp.waitEngine(ctx); err != nil {
			return err
		}

		var results []fileDetection
		for _, pth := range args {
			if !utils.IsSupportedImage(pth) {
				return fmt.Errorf("unsupported image format: %s", pth)
			}
			img, err := utils.LoadImage(pth)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", pth, err)
			}
			res, err := comp.detector.DetectInFrame(ctx, capture.NewFrame(img))
			if err != nil {
				return fmt.Errorf("detection failed for %s: %w", pth, err)
			}
			results = append(results, fileDetection{File: pth, Result: res})

			if overlayDir != "" && res != nil && res.Points != nil {
				out, err := writeOverlay(overlayDir, pth, img, res)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Saved overlay: %s\n", out)
			}
		}

		w := cmd.OutOrStdout()
		if format == outputFormatJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, r := range results {
			if _, err := fmt.Fprintln(w, formatDetection(r)); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
		return nil
	},
}

func formatDetection(r fileDetection) string {
	res := r.Result
	if res == nil {
		return r.File + ": no frame"
	}
	quad := "-"
	if res.Points != nil {
		quad = res.Points.String()
	}
	return fmt.Sprintf("%s: detected=%t blur=%.1f size=%dx%d quad=%s",
		r.File, res.Detected, res.BlurScore, res.FrameWidth, res.FrameHeight, quad)
}

// writeOverlay saves img with the detected outline drawn as
// <dir>/<name>_overlay.png.
func writeOverlay(dir, src string, img image.Image, res *detector.DetectionResult) (string, error) {
	ov := utils.DrawOverlay(img, res.Points.Points(), overlayColor, 4)
	enc, err := vision.EncodeImage(ov, media.MIMEPNG, 0)
	if err != nil {
		return "", fmt.Errorf("failed to encode overlay: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create overlay directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(dir, base+"_overlay.png")
	if err := os.WriteFile(out, enc.Data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write overlay: %w", err)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	detectCmd.Flags().String("overlay-dir", "", "write a PNG with the detected outline per image to this directory")
	detectCmd.Flags().String("profile", "", "device profile for the blur threshold (mobile, desktop)")
}

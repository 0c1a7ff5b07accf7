package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/capture"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// cropCmd represents the crop command.
var cropCmd = &cobra.Command{
	Use:   "crop [image]",
	Short: "Perspective-crop a document out of an image",
	Long: `Rectify the document outlined by a quadrilateral into a flat image of the
configured output size.

The quadrilateral is eight comma-separated numbers in frame pixels. Without
--quad the document is detected first; the command fails if none is found.

Examples:
  idscan crop card.jpg --quad 40,30,760,28,770,480,35,470
  idscan crop card.jpg --output card_flat.png --encoding png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		quadFlag, _ := cmd.Flags().GetString("quad")
		output, _ := cmd.Flags().GetString("output")
		if cmd.Flags().Changed("encoding") {
			enc, _ := cmd.Flags().GetString("encoding")
			cfg.Capture.Encoding = enc
		}
		if _, err := media.NormalizeMIME(cfg.Capture.Encoding); err != nil {
			return err
		}

		pth := args[0]
		img, err := utils.LoadImage(pth)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", pth, err)
		}
		frame := capture.NewFrame(img)

		ctx := cmd.Context()
		comp := newComponents(cfg)

		var quad geometry.Quad
		if quadFlag != "" {
			quad, err = geometry.ParseQuad(quadFlag)
			if err != nil {
				return err
			}
		} else {
			if err := comp.waitEngine(ctx); err != nil {
				return err
			}
			res, err := comp.detector.DetectInFrame(ctx, frame)
			if err != nil {
				return err
			}
			if res == nil || res.Points == nil {
				return &apperrors.CaptureError{Op: "crop", Cause: errors.New("no document found; pass --quad")}
			}
			quad = *res.Points
		}

		out, err := comp.cropper.Crop(ctx, frame, quad, nil)
		if err != nil {
			return err
		}

		if output == "" {
			base := strings.TrimSuffix(pth, filepath.Ext(pth))
			output = base + "_crop" + out.CroppedImage.Extension()
		}
		if err := os.WriteFile(output, out.CroppedImage.Data, 0o600); err != nil {
			return fmt.Errorf("failed to write crop: %w", err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Cropped %s (quad %s) to %s\n", pth, quad, output)
		return err
	},
}

func init() {
	rootCmd.AddCommand(cropCmd)
	cropCmd.Flags().String("quad", "", "document corners as x1,y1,x2,y2,x3,y3,x4,y4")
	cropCmd.Flags().StringP("output", "o", "", "output file (default <image>_crop.<ext>)")
	cropCmd.Flags().String("encoding", "", "output encoding (jpeg, png)")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/export"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a guided capture session against a camera",
	Long: `Capture every side of a document from a camera or a directory of replayed
frames. Each side is captured automatically once a sharp document has been
seen, or forced after the fallback timeout.

Captured images are exported to the configured directory, optionally bundled
into a PDF and uploaded to Azure Blob Storage, and the sessions are recorded
in the history database.

Examples:
  idscan scan --document passport --source replay --dir frames
  idscan scan --document emirates_id --source device --device 0 --pdf
  idscan scan --timeout 2m --no-export`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("document") {
			cfg.Capture.Document, _ = cmd.Flags().GetString("document")
		}
		if cmd.Flags().Changed("source") {
			cfg.Camera.Source, _ = cmd.Flags().GetString("source")
		}
		if cmd.Flags().Changed("dir") {
			cfg.Camera.Dir, _ = cmd.Flags().GetString("dir")
		}
		if cmd.Flags().Changed("device") {
			cfg.Camera.Device, _ = cmd.Flags().GetInt("device")
		}
		if cmd.Flags().Changed("export-dir") {
			cfg.Export.Dir, _ = cmd.Flags().GetString("export-dir")
		}
		if cmd.Flags().Changed("pdf") {
			cfg.Export.PDF, _ = cmd.Flags().GetBool("pdf")
		}
		if cmd.Flags().Changed("db") {
			cfg.Store.Path, _ = cmd.Flags().GetString("db")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		noExport, _ := cmd.Flags().GetBool("no-export")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Camera.Source == capture.KindStream {
			return errors.New("the stream source is fed by the server; use replay or device")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		src, err := capture.New(cfg.ToCaptureConfig())
		if err != nil {
			return err
		}
		hist, err := openHistory(cfg, noHistory)
		if err != nil {
			return err
		}
		var opts []scan.Option
		if hist != nil {
			defer func() { _ = hist.Close() }()
			record := recordOutcome(hist)
			// cancelled sessions are recorded after ctx is done
			recCtx := context.WithoutCancel(ctx)
			opts = append(opts, scan.WithOnComplete(func(o scan.Outcome) { record(recCtx, o) }))
		}

		comp := newComponents(cfg)
		ctrl := scan.NewController(cfg.ToControllerConfig(), src, comp.detector, comp.cropper, opts...)
		defer func() { _ = ctrl.Close() }()

		sum, err := runScan(ctx, ctrl, cfg.ToControllerConfig().AutoAdvanceDelay > 0, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		if !noExport {
			sinks, err := export.New(cfg.ToExportConfig())
			if err != nil {
				return err
			}
			if len(sinks) > 0 {
				if err := sinks.Export(ctx, sum.ID, sum.Images); err != nil {
					return fmt.Errorf("export failed: %w", err)
				}
				for _, s := range sinks {
					sum.Exported = append(sum.Exported, s.Name())
				}
			}
		}
		return sum.write(cmd.OutOrStdout())
	},
}

// scanSummary describes a finished capture of all sides.
type scanSummary struct {
	ID       string
	Document scan.DocumentType
	Images   []scan.CapturedImage
	Exported []string
	Elapsed  time.Duration
}

func (s scanSummary) write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Scan %s (%s) completed in %s\n", s.ID, s.Document, s.Elapsed.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, img := range s.Images {
		mode := "auto"
		if img.Forced {
			mode = "forced"
		}
		if _, err := fmt.Fprintf(w, "  %s: %s capture, %d bytes cropped\n", img.Side, mode, len(img.CroppedImage.Data)); err != nil {
			return err
		}
	}
	if len(s.Exported) > 0 {
		_, err := fmt.Fprintf(w, "  exported: %v\n", s.Exported)
		return err
	}
	return nil
}

// runScan drives ctrl until every side of the document is captured. Without
// auto-advance the next side is started as soon as one is captured. Any
// failed session ends the scan.
func runScan(ctx context.Context, ctrl *scan.Controller, autoAdvance bool, progress io.Writer) (scanSummary, error) {
	began := time.Now()
	results, unsubscribe := ctrl.Results()
	defer unsubscribe()

	sides := ctrl.Document().Sides()
	sum := scanSummary{Document: ctrl.Document()}
	if _, err := ctrl.StartScan(ctx, sides[0]); err != nil {
		return sum, err
	}
	_, _ = fmt.Fprintf(progress, "Scanning %s of %s\n", sides[0], ctrl.Document())

	for {
		select {
		case <-ctx.Done():
			ctrl.Cancel()
			return sum, fmt.Errorf("scan aborted: %w", ctx.Err())
		case out, ok := <-results:
			if !ok {
				return sum, errors.New("scan controller closed")
			}
			if out.Err != nil {
				return sum, fmt.Errorf("%s side: %w", out.Side, out.Err)
			}
			if out.Image == nil {
				continue
			}
			if sum.ID == "" {
				sum.ID = out.SessionID
			}
			slog.Info("Side captured", "session", out.SessionID, "side", out.Side, "forced", out.Image.Forced)
			_, _ = fmt.Fprintf(progress, "Captured %s\n", out.Side)

			if ctrl.Complete() {
				for _, side := range sides {
					if img, ok := ctrl.Captured(side); ok {
						sum.Images = append(sum.Images, *img)
					}
				}
				sum.Elapsed = time.Since(began)
				return sum, nil
			}
			next, ok := nextSide(ctrl, sides)
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(progress, "Turn the document over to scan the %s\n", next)
			if !autoAdvance {
				if _, err := ctrl.StartScan(ctx, next); err != nil {
					return sum, err
				}
			}
		}
	}
}

func nextSide(ctrl *scan.Controller, sides []scan.Side) (scan.Side, bool) {
	for _, side := range sides {
		if _, ok := ctrl.Captured(side); !ok {
			return side, true
		}
	}
	return "", false
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("document", "", "document type (emirates_id, philippines_id, passport)")
	scanCmd.Flags().String("source", "", "camera source (replay, device)")
	scanCmd.Flags().String("dir", "", "frame directory for the replay source")
	scanCmd.Flags().Int("device", 0, "camera device index")
	scanCmd.Flags().String("export-dir", "", "directory for captured images")
	scanCmd.Flags().Bool("pdf", false, "also bundle the crops into a PDF")
	scanCmd.Flags().Duration("timeout", 0, "give up after this long (0 waits until interrupted)")
	scanCmd.Flags().Bool("no-export", false, "do not export captured images")
	scanCmd.Flags().Bool("no-history", false, "do not record sessions in the history database")
	scanCmd.Flags().String("db", "", "history database path (overrides store.path)")
}

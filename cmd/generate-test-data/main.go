package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// still is one generated single-image case.
type still struct {
	name        string
	description string
	cfg         testutil.CardConfig
	blank       bool
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir           = flag.String("out", "testdata", "Output directory, relative to the project root")
		generateImages   = flag.Bool("images", true, "Generate still card images")
		generateFrames   = flag.Bool("frames", true, "Generate replay frame directories")
		generateFixtures = flag.Bool("fixtures", true, "Generate expected-corner fixtures")
		frameCount       = flag.Int("n", 8, "Frames per replay directory")
		help             = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic ID-card frames for idscan testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Generate all test data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -fixtures=false    # Skip fixtures\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  idscan scan --source replay --dir testdata/frames/front\n")
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	dir := *outDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}

	slog.Info("Starting test data generation", "dir", dir)

	if *generateImages {
		if err := writeStills(dir); err != nil {
			slog.Error("Failed to generate images", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated still images")
	}
	if *generateFrames {
		if err := writeFrames(dir, *frameCount); err != nil {
			slog.Error("Failed to generate frames", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated replay frames", "per_side", *frameCount)
	}
	if *generateFixtures {
		if err := writeFixtures(dir); err != nil {
			slog.Error("Failed to generate fixtures", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated fixtures")
	}

	slog.Info("Test data generation completed")
}

func stills() []still {
	base := testutil.DefaultCardConfig()

	tilted := base
	tilted.Rotation = 12
	tilted.Skew = 40

	small := base
	small.CardWidth = 300

	blurry := base
	blurry.BlurSigma = 8

	passport := base
	passport.CardWidth = 900
	passport.Text = []string{"PASSPORT", "P<UTOSAMPLE<<HOLDER<<<<<<<<<<<<<<<<<<<<<<<<<"}

	return []still{
		{name: "card", description: "Straight ID-1 card on a dark desk", cfg: base},
		{name: "tilted", description: "Rotated card with perspective skew", cfg: tilted},
		{name: "small", description: "Card far from the camera", cfg: small},
		{name: "blurry", description: "Out-of-focus card below the blur threshold", cfg: blurry},
		{name: "passport", description: "Passport data page filling most of the frame", cfg: passport},
		{name: "empty", description: "Desk without a document", cfg: base, blank: true},
	}
}

// writeStills writes <dir>/images/<name>.png for every still case.
func writeStills(dir string) error {
	for _, s := range stills() {
		p := filepath.Join(dir, "images", s.name+".png")
		if s.blank {
			if err := testutil.WriteImage(testutil.BlankFrame(s.cfg.FrameWidth, s.cfg.FrameHeight, s.cfg.Background), p); err != nil {
				return fmt.Errorf("failed to write %s: %w", p, err)
			}
			continue
		}
		img, _ := testutil.GenerateCard(s.cfg)
		if err := testutil.WriteImage(img, p); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return nil
}

// writeFrames writes a replay directory per card side.
func writeFrames(dir string, n int) error {
	if n < 1 {
		return fmt.Errorf("frame count must be positive, got %d", n)
	}
	front := testutil.DefaultCardConfig()
	back := front
	back.Card = color.NRGBA{R: 214, G: 222, B: 236, A: 255}
	back.Text = []string{"IDUTO<<784199012345671<<<<<<", "9001014M3001012UTO<<<<<<<<<6"}

	for side, cfg := range map[string]testutil.CardConfig{"front": front, "back": back} {
		if _, err := testutil.RenderCardFrames(filepath.Join(dir, "frames", side), n, cfg); err != nil {
			return err
		}
	}
	return nil
}

// writeFixtures writes <dir>/fixtures/<name>.json with the expected corners
// of every still case.
func writeFixtures(dir string) error {
	fixturesDir := filepath.Join(dir, "fixtures")
	if err := testutil.EnsureDir(fixturesDir); err != nil {
		return fmt.Errorf("failed to create fixtures directory: %w", err)
	}
	for _, s := range stills() {
		fx := testutil.Fixture{
			Name:        s.name,
			Description: s.description,
			InputFile:   filepath.ToSlash(filepath.Join("images", s.name+".png")),
			Detected:    !s.blank && s.cfg.BlurSigma == 0,
		}
		if !s.blank {
			corners := testutil.CardCorners(s.cfg)
			fx.Corners = []utils.Point(corners[:])
		}
		if err := saveFixture(fx, fixturesDir); err != nil {
			return fmt.Errorf("failed to save fixture '%s': %w", s.name, err)
		}
	}
	return nil
}

func saveFixture(fixture testutil.Fixture, dir string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fixture.Name+".json"), data, 0o600)
}

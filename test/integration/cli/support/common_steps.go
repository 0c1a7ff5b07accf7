package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MeKo-Tech/idscan/cmd/idscan/cmd"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

// saveImage writes img as PNG under the temp directory.
func (testCtx *TestContext) saveImage(name string, img image.Image) error {
	path := testCtx.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: test image in the scenario temp dir
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return png.Encode(f, img)
}

func (testCtx *TestContext) aSyntheticIDCardImage(name string) error {
	img, _ := testutil.GenerateCard(testutil.DefaultCardConfig())
	return testCtx.saveImage(name, img)
}

func (testCtx *TestContext) aBlurryIDCardImage(name string) error {
	cfg := testutil.DefaultCardConfig()
	cfg.BlurSigma = 8
	img, _ := testutil.GenerateCard(cfg)
	return testCtx.saveImage(name, img)
}

func (testCtx *TestContext) aBlankImage(name string) error {
	return testCtx.saveImage(name, testutil.BlankFrame(640, 400, testutil.DefaultCardConfig().Background))
}

func (testCtx *TestContext) aDirectoryOfCardFrames(name string, n int) error {
	cfg := testutil.DefaultCardConfig()
	for i := range n {
		img, _ := testutil.GenerateCard(cfg)
		if err := testCtx.saveImage(filepath.Join(name, fmt.Sprintf("frame_%03d.png", i)), img); err != nil {
			return err
		}
	}
	return nil
}

// iRunCommand executes the CLI in-process. {tmp} expands to the scenario
// temp directory.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.expand(command)
	testCtx.LastCommand = command
	args := strings.Fields(strings.TrimPrefix(command, "idscan"))

	root := cmd.GetRootCommand()
	defer resetFlags(root)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	testCtx.LastError = root.Execute()
	testCtx.LastOutput = buf.String()
	return nil
}

// resetFlags restores flag defaults, since cobra keeps values between runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nOutput: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded but should have failed\nOutput: %s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("output does not contain %q\nOutput: %s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("output contains %q\nOutput: %s", unexpected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid(bytes.TrimSpace([]byte(testCtx.LastOutput))) {
		return fmt.Errorf("output is not valid JSON: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(expected string) error {
	if testCtx.LastError == nil {
		return errors.New("no error occurred")
	}
	if !strings.Contains(testCtx.LastError.Error(), expected) {
		return fmt.Errorf("error %q does not mention %q", testCtx.LastError, expected)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.Path(name)); err != nil {
		return fmt.Errorf("file %s does not exist: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theDirectoryShouldContainFilesMatching(dir string, n int, pattern string) error {
	matches, err := filepath.Glob(filepath.Join(testCtx.Path(dir), pattern))
	if err != nil {
		return err
	}
	if len(matches) != n {
		return fmt.Errorf("expected %d files matching %s in %s, found %d", n, pattern, dir, len(matches))
	}
	return nil
}

// RegisterCommonSteps registers CLI step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a synthetic ID card image "([^"]*)"$`, testCtx.aSyntheticIDCardImage)
	sc.Step(`^a blurry ID card image "([^"]*)"$`, testCtx.aBlurryIDCardImage)
	sc.Step(`^a blank image "([^"]*)"$`, testCtx.aBlankImage)
	sc.Step(`^a directory "([^"]*)" with (\d+) card frames$`, testCtx.aDirectoryOfCardFrames)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the directory "([^"]*)" should contain (\d+) files? matching "([^"]*)"$`, testCtx.theDirectoryShouldContainFilesMatching)
}

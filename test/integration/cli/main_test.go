package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/idscan/test/integration/cli/support"
)

// initializeScenario gives every scenario its own temp dir and test server.
func initializeScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(sc *godog.ScenarioContext) {
		tc, err := support.NewTestContext()
		if err != nil {
			t.Fatalf("create test context: %v", err)
		}
		tc.RegisterCommonSteps(sc)
		tc.RegisterServerSteps(sc)

		sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
			if err := tc.Cleanup(); err != nil {
				t.Logf("cleanup: %v", err)
			}
			return ctx, nil
		})
	}
}

func TestFeatures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("features", "*.feature"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("no .feature files found in features/ (%v)", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			suite := godog.TestSuite{
				Name:                filepath.Base(p),
				ScenarioInitializer: initializeScenario(t),
				Options: &godog.Options{
					Format:   format,
					Tags:     os.Getenv("GODOG_TAGS"),
					Paths:    []string{p},
					TestingT: t,
				},
			}
			if status := suite.Run(); status != 0 {
				t.Fatalf("godog returned status %d for %s", status, p)
			}
		})
	}
}

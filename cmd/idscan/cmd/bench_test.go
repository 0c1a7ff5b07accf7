package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	assert.Equal(t, "bench [image...]", benchCmd.Use)
	for _, name := range []string{"iterations", "format", "no-crop"} {
		assert.NotNil(t, benchCmd.Flags().Lookup(name), name)
	}
}

func TestBenchCommand_SyntheticJSON(t *testing.T) {
	output, err := executeCommand(t, "bench", "-n", "2", "--format", "json")
	require.NoError(t, err)

	var report benchReport
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	assert.Equal(t, 2, report.Iterations)
	assert.NotEmpty(t, report.Backend)
	require.Len(t, report.Results, 8)

	byName := map[string]string{}
	for _, r := range report.Results {
		byName[r.Name] = r.Error
	}
	assert.Empty(t, byName["detect/card"])
	assert.Empty(t, byName["crop/card"])
	assert.Empty(t, byName["detect/empty"])
	assert.Contains(t, byName["crop/empty"], "no document found")
}

func TestBenchCommand_FileDetectOnly(t *testing.T) {
	card := writeCard(t, t.TempDir())

	output, err := executeCommand(t, "bench", card, "-n", "1", "--no-crop")
	require.NoError(t, err)
	assert.Contains(t, output, "Engine: ")
	assert.Contains(t, output, "detect/card.png: 1 iterations")
	assert.NotContains(t, output, "crop/")
}

func TestBenchCommand_Errors(t *testing.T) {
	_, err := executeCommand(t, "bench", "-n", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterations must be positive")

	_, err = executeCommand(t, "bench", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")

	_, err = executeCommand(t, "bench", "missing.gif")
	require.Error(t, err)
}

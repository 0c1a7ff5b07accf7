package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/idscan/internal/config"
)

func TestConfigShow(t *testing.T) {
	output, err := executeCommand(t, "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(output), &cfg))
	assert.NotEmpty(t, cfg.Engine.Backend)
	assert.Positive(t, cfg.Server.Port)
}

func TestMarshalConfig_MasksSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Export.Azure.Account = "acct"
	cfg.Export.Azure.Key = "super-secret-key"
	cfg.Export.PDFPassword = "pdf-secret"

	out, err := marshalConfig(&cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "account: acct")
	assert.NotContains(t, string(out), "super-secret-key")
	assert.NotContains(t, string(out), "pdf-secret")
	assert.Contains(t, string(out), "********")
}

func TestConfigValidate(t *testing.T) {
	output, err := executeCommand(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration is valid")
}

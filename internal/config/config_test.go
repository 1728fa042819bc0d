package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainYAML = `Name: paygate-test
Host: 127.0.0.1
Port: 8888

Env: test

TTL:
  Short: 5
  Medium: 30
  Long: 120

Orchestrator:
  MaxToolRounds: 4

Ledger:
  DefaultThreshold: "2500000"

LLM:
  File: llm.yaml
Tools:
  File: tools.yaml
`

const llmYAML = `default: openai
providers:
  openai:
    type: openai
    api_key: test-key
`

const toolsYAML = `servers:
  search:
    url: http://127.0.0.1:9/rpc
`

func writeConfigTree(t *testing.T, main string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "paygate.yaml"), []byte(main), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm.yaml"), []byte(llmYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(toolsYAML), 0o600))
	return dir
}

func TestLoadHydratesSections(t *testing.T) {
	dir := writeConfigTree(t, mainYAML)

	cfg, err := Load(filepath.Join(dir, "paygate.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, 4, cfg.Orchestrator.MaxToolRounds)
	assert.Equal(t, "2500000", cfg.DefaultThreshold().String())
	assert.Equal(t, dir, cfg.BaseDir())
	assert.Equal(t, filepath.Join(dir, "paygate.yaml"), cfg.MainPath())

	require.NotNil(t, cfg.LLM.Value)
	assert.Equal(t, "openai", cfg.LLM.Value.Default)
	assert.Equal(t, filepath.Join(dir, "llm.yaml"), cfg.LLM.File)

	require.NotNil(t, cfg.Tools.Value)
	assert.Contains(t, cfg.Tools.Value.Servers, "search")

	// Sections without a File stay unhydrated rather than erroring.
	assert.Nil(t, cfg.Gate.Value)
	assert.Nil(t, cfg.Payment.Value)
}

func TestLoadMissingMainFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMissingSectionFile(t *testing.T) {
	dir := writeConfigTree(t, mainYAML)
	require.NoError(t, os.Remove(filepath.Join(dir, "llm.yaml")))

	_, err := Load(filepath.Join(dir, "paygate.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load llm config")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env:          "dev",
			TTL:          CacheTTL{Short: 10, Medium: 60, Long: 300},
			Orchestrator: OrchestratorConf{MaxToolRounds: 10},
			Ledger:       LedgerConf{DefaultThreshold: "10000000"},
		}
	}

	t.Run("accepts known environments", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
	})

	t.Run("empty env defaults to test", func(t *testing.T) {
		cfg := valid()
		cfg.Env = ""
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "test", cfg.Env)
	})

	t.Run("rejects unknown env", func(t *testing.T) {
		cfg := valid()
		cfg.Env = "staging"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "env must be one of")
	})

	t.Run("rejects non positive tool rounds", func(t *testing.T) {
		cfg := valid()
		cfg.Orchestrator.MaxToolRounds = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects non integer threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Ledger.DefaultThreshold = "1.5"
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects non positive ttl", func(t *testing.T) {
		cfg := valid()
		cfg.TTL.Medium = 0
		require.Error(t, cfg.Validate())
	})
}

func TestDefaultThresholdFallsBackToZero(t *testing.T) {
	cfg := Config{Ledger: LedgerConf{DefaultThreshold: "not-a-number"}}
	assert.Equal(t, "0", cfg.DefaultThreshold().String())
}

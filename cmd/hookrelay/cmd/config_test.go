package cmd

import (
	"encoding/json"
	"testing"

	clitest "github.com/bargom/hookrelay/cmd/hookrelay/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand(t *testing.T) {
	t.Run("has subcommands", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "config", "--help")

		require.NoError(t, err)
		assert.Contains(t, output, "show")
		assert.Contains(t, output, "validate")
	})
}

func TestConfigShowCommand(t *testing.T) {
	t.Run("prints defaults as json", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "config", "show")

		require.NoError(t, err)

		var settings map[string]any
		require.NoError(t, json.Unmarshal([]byte(output), &settings))
		assert.Equal(t, float64(8080), settings["server.port"])
		assert.Equal(t, "memory", settings["storage.driver"])
		assert.Equal(t, "memory", settings["state.store"])
		assert.Equal(t, "30s", settings["shutdown.drain-deadline"])
	})

	t.Run("honours config file", func(t *testing.T) {
		path := clitest.CreateTempConfig(t, `
server:
  port: 3000
retry:
  base: 2s
`)
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "--config", path, "config", "show")

		require.NoError(t, err)

		var settings map[string]any
		require.NoError(t, json.Unmarshal([]byte(output), &settings))
		assert.Equal(t, float64(3000), settings["server.port"])
		assert.Equal(t, "2s", settings["retry.base"])
	})

	t.Run("redacts the auth secret", func(t *testing.T) {
		path := clitest.CreateTempConfig(t, `
auth:
  secret: super-secret-value
`)
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "--config", path, "config", "show")

		require.NoError(t, err)
		assert.NotContains(t, output, "super-secret-value")
		assert.Contains(t, output, "[REDACTED]")
	})

	t.Run("fails on missing config file", func(t *testing.T) {
		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd, "--config", "/does/not/exist.yaml", "config", "show")

		assert.Error(t, err)
	})
}

func TestConfigValidateCommand(t *testing.T) {
	t.Run("accepts a valid file", func(t *testing.T) {
		path := clitest.CreateTempConfig(t, `
server:
  port: 8080
batching:
  max-size: 25
`)
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "--config", path, "config", "validate")

		require.NoError(t, err)
		assert.Contains(t, output, "configuration is valid")
	})

	t.Run("rejects maintenance without redis", func(t *testing.T) {
		path := clitest.CreateTempConfig(t, `
maintenance:
  enabled: true
`)
		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd, "--config", path, "config", "validate")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "maintenance.redis-url")
	})

	t.Run("rejects an unknown log level", func(t *testing.T) {
		path := clitest.CreateTempConfig(t, `
log:
  level: loud
`)
		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd, "--config", path, "config", "validate")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "log.level")
	})
}

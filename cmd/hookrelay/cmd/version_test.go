package cmd

import (
	"encoding/json"
	"testing"

	clitest "github.com/bargom/hookrelay/cmd/hookrelay/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	t.Run("prints plain version by default", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "version")

		require.NoError(t, err)
		assert.Contains(t, output, "hookrelay v"+Version)
		assert.Contains(t, output, "Build Date:")
		assert.Contains(t, output, "Git Commit:")
	})

	t.Run("prints json when requested", func(t *testing.T) {
		rootCmd := NewRootCmd()
		output, err := clitest.ExecuteCommand(rootCmd, "version", "--output", "json")

		require.NoError(t, err)

		var info VersionInfo
		require.NoError(t, json.Unmarshal([]byte(output), &info))
		assert.Equal(t, Version, info.Version)
		assert.Equal(t, BuildDate, info.BuildDate)
		assert.Equal(t, GitCommit, info.GitCommit)
	})

	t.Run("rejects arguments", func(t *testing.T) {
		rootCmd := NewRootCmd()
		_, err := clitest.ExecuteCommand(rootCmd, "version", "extra")

		assert.Error(t, err)
	})
}

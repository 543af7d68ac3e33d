package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bargom/hookrelay/internal/config"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the server configuration",
		Long: `Inspect the resolved server configuration.

Values are merged from the config file, HOOKRELAY_* environment
variables and flags, then validated. Secrets are redacted in output.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

// newConfigShowCmd creates the config show subcommand.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Example: `  hookrelay config show
  hookrelay config show --config /etc/hookrelay/hookrelay.yaml
  HOOKRELAY_SERVER_PORT=3000 hookrelay config show`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg.Settings())
}

// newConfigValidateCmd creates the config validate subcommand.
func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration without starting the server.

Exits non-zero with the first validation error, for use in deploy
pipelines before rolling a config change out.`,
		Example: `  hookrelay config validate --config hookrelay.yaml`,
		Args:    cobra.NoArgs,
		RunE:    runConfigValidate,
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}

// loadConfig resolves the configuration honouring the global --config
// flag.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(config.WithFile(cfgFile))
	}
	return config.Load()
}

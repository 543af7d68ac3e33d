// Package cmd provides the CLI commands for hookrelay.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the config file
	cfgFile string
	// verbose enables verbose output
	verbose bool
	// outputFormat specifies the output format (json, plain)
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookrelay",
	Short: "Webhook delivery server",
	Long: `hookrelay delivers events to registered webhook endpoints.

It consumes events from a store, dispatches them to webhook URLs in
single or batched mode with at-most-once or at-least-once semantics,
and retries failed deliveries with exponential backoff until a failure
horizon marks the endpoint unavailable.

Configuration is resolved from a YAML file, HOOKRELAY_* environment
variables and command-line flags, in ascending precedence.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// NewRootCmd creates a new root command for testing.
// This allows tests to create fresh command trees.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hookrelay",
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}

	addGlobalFlags(cmd)
	addSubcommands(cmd)

	return cmd
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hookrelay.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format (json|plain)")
}

func addSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReceiverCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newVersionCmd())
}

func init() {
	addGlobalFlags(rootCmd)
	addSubcommands(rootCmd)
}

// isVerbose returns true if verbose mode is enabled.
func isVerbose() bool {
	return verbose
}

// printVerbose prints message only if verbose mode is enabled.
func printVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

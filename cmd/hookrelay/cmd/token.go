package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bargom/hookrelay/internal/auth"
)

var (
	// tokenSubject names the token holder
	tokenSubject string
	// tokenTTL bounds the token lifetime
	tokenTTL time.Duration
)

// newTokenCmd creates the token command.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a management API token",
		Long: `Issue a bearer token for the management API.

The token is signed with the configured auth.secret, so the server
verifying it must run with the same secret. Pass it in the
Authorization header:

  curl -H "Authorization: Bearer $(hookrelay token)" http://localhost:8080/api/v1/webhooks`,
		Example: `  hookrelay token
  hookrelay token --subject deploy-bot --ttl 15m
  hookrelay token --output json`,
		Args: cobra.NoArgs,
		RunE: runToken,
	}

	cmd.Flags().StringVar(&tokenSubject, "subject", "cli", "subject claim of the token")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not configured, set it in the config file or HOOKRELAY_AUTH_SECRET")
	}

	token, err := auth.New(cfg.Auth.Secret).IssueToken(tokenSubject, tokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]string{
			"token":      token,
			"subject":    tokenSubject,
			"expires_at": time.Now().Add(tokenTTL).UTC().Format(time.RFC3339),
		})
	default:
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}
}

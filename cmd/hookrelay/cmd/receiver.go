package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bargom/hookrelay/internal/api"
	"github.com/bargom/hookrelay/internal/receiver"
	"github.com/bargom/hookrelay/internal/shutdown"
	"github.com/bargom/hookrelay/pkg/logging"
)

var (
	// receiverHost is the host the test receiver binds to
	receiverHost string
	// receiverPort is the port the test receiver listens on
	receiverPort int
	// receiverCapacity bounds the recorded request ring
	receiverCapacity int
)

// newReceiverCmd creates the receiver command.
func newReceiverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Run the test webhook receiver",
		Long: `Run a standalone webhook receiver for delivery testing.

The receiver records every request it gets and answers with a
caller-chosen status code:

  POST /hook           accept the delivery with 200
  POST /hook/{code}    accept the delivery with the given status code
  GET /requests        list recorded requests, newest first
  DELETE /requests     clear recorded requests

Point webhooks at it to observe delivery behaviour, or use the
/hook/{code} form to exercise retry handling.`,
		Example: `  hookrelay receiver
  hookrelay receiver --port 9191
  hookrelay receiver --capacity 1024`,
		Args: cobra.NoArgs,
		RunE: runReceiver,
	}

	cmd.Flags().StringVar(&receiverHost, "host", "0.0.0.0", "host to bind to")
	cmd.Flags().IntVarP(&receiverPort, "port", "p", 9090, "port to listen on")
	cmd.Flags().IntVar(&receiverCapacity, "capacity", receiver.DefaultCapacity, "recorded request ring capacity")

	return cmd
}

func runReceiver(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.ConfigFromEnv())
	slog.SetDefault(logger.Logger)

	rec := receiver.NewRecorder(receiverCapacity)
	addr := fmt.Sprintf("%s:%d", receiverHost, receiverPort)
	srv := api.NewServer(addr, receiver.NewRouter(rec, logger.Logger))

	sigs := shutdown.NewSignalHandler(syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	fmt.Fprintf(cmd.OutOrStdout(), "test receiver listening on %s\n", addr)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("test receiver: %w", err)
		}
		return fmt.Errorf("test receiver stopped unexpectedly")
	case sig := <-sigs.Listen():
		printVerbose(cmd, "received %s, shutting down\n", sig)
	}
	sigs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stopping test receiver: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "test receiver stopped")
	return nil
}

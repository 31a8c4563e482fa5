// Package cli implements idemctl, an operator tool for inspecting idempotency records.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/lambda-idempotency/internal/bootstrap"
	"github.com/imrishuroy/lambda-idempotency/internal/config"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// StoreOpener returns the configured record store and a func releasing it.
type StoreOpener func(ctx context.Context) (idempotency.RecordStore, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	open   StoreOpener
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// DefaultStoreOpener opens the backend selected by the environment, as the
// API and worker do.
func DefaultStoreOpener(ctx context.Context) (idempotency.RecordStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, func() {}, err
	}
	return bootstrap.NewStore(ctx, cfg, nil)
}

// NewRootCommand creates the idemctl root command. open is used by the commands
// that talk to a record store.
func NewRootCommand(open StoreOpener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "idemctl",
		Short: "Inspect and manage idempotency records",
		Long: `idemctl computes idempotency keys and reads or deletes the records behind them.

The record store is selected with the same environment variables the payments
API and worker use (IDEMPOTENCY_BACKEND, IDEMPOTENCY_TABLE, REDIS_ADDR, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))

	return cmd
}

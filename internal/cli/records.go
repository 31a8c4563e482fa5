package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// RecordView is the printable form of a stored record.
type RecordView struct {
	Key                 string  `json:"key" yaml:"key"`
	Status              string  `json:"status" yaml:"status"`
	StoredStatus        string  `json:"stored_status" yaml:"stored_status"`
	ExpiresAt           string  `json:"expires_at" yaml:"expires_at"`
	InProgressExpiresAt string  `json:"in_progress_expires_at,omitempty" yaml:"in_progress_expires_at,omitempty"`
	PayloadHash         string  `json:"payload_hash,omitempty" yaml:"payload_hash,omitempty"`
	Response            *string `json:"response,omitempty" yaml:"response,omitempty"`
}

// NewRecordView renders rec as seen at now. Status is the effective status, so a
// record past its expiry shows as EXPIRED.
func NewRecordView(rec *idempotency.Record, now time.Time) RecordView {
	v := RecordView{
		Key:          rec.Key,
		Status:       string(rec.StatusAt(now)),
		StoredStatus: string(rec.Status),
		ExpiresAt:    "never",
		PayloadHash:  rec.PayloadHash,
		Response:     rec.ResponseData,
	}
	if rec.ExpiryTimestamp != 0 {
		v.ExpiresAt = time.Unix(int64(rec.ExpiryTimestamp), 0).UTC().Format(time.RFC3339)
	}
	if rec.InProgressExpiryTimestamp != nil {
		v.InProgressExpiresAt = time.UnixMilli(int64(*rec.InProgressExpiryTimestamp)).UTC().Format(time.RFC3339Nano)
	}
	return v
}

func (v RecordView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "key:          %s\n", v.Key)
	fmt.Fprintf(&b, "status:       %s", v.Status)
	if v.Status != v.StoredStatus {
		fmt.Fprintf(&b, " (stored %s)", v.StoredStatus)
	}
	fmt.Fprintf(&b, "\nexpires at:   %s", v.ExpiresAt)
	if v.InProgressExpiresAt != "" {
		fmt.Fprintf(&b, "\nlock expires: %s", v.InProgressExpiresAt)
	}
	if v.PayloadHash != "" {
		fmt.Fprintf(&b, "\nvalidation:   %s", v.PayloadHash)
	}
	if v.Response != nil {
		fmt.Fprintf(&b, "\nresponse:     %s", *v.Response)
	}
	return b.String()
}

// DeleteResult reports a deleted key.
type DeleteResult struct {
	Deleted string `json:"deleted" yaml:"deleted"`
}

func (r DeleteResult) Text() string { return "deleted " + r.Deleted }

func openStore(ctx context.Context, opts *RootOptions) (idempotency.RecordStore, func(), error) {
	store, closeFn, err := opts.open(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open record store", err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return store, closeFn, nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show the record stored under an idempotency key",
		Long: `Show the record stored under an idempotency key, as printed by "idemctl hash".

Exit codes:
  0 - record found
  1 - no record for the key
  2 - command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeFn, err := openStore(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.Get(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read record", err)
			}
			if rec == nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("no record for key %q", args[0]), nil)
			}
			return rootOpts.formatter(cmd).Write(NewRecordView(rec, time.Now()))
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete the record stored under an idempotency key",
		Long: `Delete the record stored under an idempotency key so the next request with
that key runs again. Deleting a key with no record is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeFn, err := openStore(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Delete(ctx, args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete record", err)
			}
			return rootOpts.formatter(cmd).Write(DeleteResult{Deleted: args[0]})
		},
	}
}

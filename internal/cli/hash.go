package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
	"github.com/imrishuroy/lambda-idempotency/internal/idempotency/memstore"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	File           string
	FunctionName   string
	Operation      string
	KeyPath        string
	ValidationPath string
	HashFunction   string
}

// HashResult is the fingerprint of a payload.
type HashResult struct {
	Key         string `json:"key,omitempty" yaml:"key,omitempty"`
	PayloadHash string `json:"payload_hash,omitempty" yaml:"payload_hash,omitempty"`
	Skipped     bool   `json:"skipped" yaml:"skipped"`
}

func (r HashResult) Text() string {
	if r.Skipped {
		return "no idempotency key: the key path selected nothing"
	}
	out := "key: " + r.Key
	if r.PayloadHash != "" {
		out += "\npayload_hash: " + r.PayloadHash
	}
	return out
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the idempotency key of a JSON payload",
		Long: `Compute the idempotency key a handler would derive from a JSON payload.

The payload is read from --file, or stdin when no file is given.

Examples:
  echo '{"charge_id":"ch-1","amount":20}' | idemctl hash --function payments-worker --key-path charge_id
  idemctl hash -f event.json --function payments-api --key-path idempotency_key --validation-path body`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "payload file (default stdin)")
	cmd.Flags().StringVar(&opts.FunctionName, "function", os.Getenv(idempotency.FunctionNameEnv), "function name the key is scoped to")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "operation name appended to the scope")
	cmd.Flags().StringVar(&opts.KeyPath, "key-path", "", "JMESPath selecting the key fragment")
	cmd.Flags().StringVar(&opts.ValidationPath, "validation-path", "", "JMESPath selecting the validated fragment")
	cmd.Flags().StringVar(&opts.HashFunction, "hash", idempotency.DefaultHashFunction, "hash function")

	return cmd
}

func runHash(opts *HashOptions, cmd *cobra.Command) error {
	var (
		payload []byte
		err     error
	)
	if opts.File != "" {
		payload, err = os.ReadFile(opts.File)
	} else {
		payload, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}

	fnName := opts.FunctionName
	if fnName == "" {
		fnName = "local"
	}
	coordOpts := []idempotency.Option{
		idempotency.WithFunctionName(fnName),
		idempotency.WithOperation(opts.Operation),
		idempotency.WithHashFunction(opts.HashFunction),
		idempotency.WithEventKeyJMESPath(opts.KeyPath),
	}
	if opts.ValidationPath != "" {
		coordOpts = append(coordOpts, idempotency.WithPayloadValidationJMESPath(opts.ValidationPath))
	}
	// Fingerprinting never touches the store.
	coord, err := idempotency.New(memstore.New(), coordOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}

	fp, err := coord.Fingerprint(payload)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fingerprint payload", err)
	}
	if err := opts.formatter(cmd).Write(HashResult{Key: fp.Key, PayloadHash: fp.PayloadHash, Skipped: fp.Skip}); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

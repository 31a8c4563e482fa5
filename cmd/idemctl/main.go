package main

import (
	"fmt"
	"os"

	"github.com/imrishuroy/lambda-idempotency/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.DefaultStoreOpener).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// Command validate-nb checks that Jupyter notebooks still reproduce their
// stored cell outputs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidcortesortuno/pytest-validate-nb/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Command ssmgr inspects and rewrites Illumina sample sheets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"runmgr/internal/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := command.BuildSsmgrApp(command.SsmgrDeps{Stdout: stdout, Stderr: stderr})
	err := app.RunContext(ctx, args)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, command.ErrSheetWarnings):
		return 2
	default:
		fmt.Fprintln(stderr, "ssmgr:", err)
		return 1
	}
}

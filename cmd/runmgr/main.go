// Command runmgr tracks sequencing runs through download, demultiplexing
// and upload.
package main

import (
	"context"
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
	app := command.BuildRunmgrApp(command.RunmgrDeps{Stdout: stdout, Stderr: stderr})
	if err := app.RunContext(ctx, args); err != nil {
		fmt.Fprintln(stderr, "runmgr:", err)
		return 1
	}
	return 0
}

// Command pipeframe reads a frame, applies the operations declared in a
// job document and writes the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	dferrors "github.com/paveg/pipeframe/internal/errors"
	"github.com/paveg/pipeframe/internal/version"
)

// Exit codes by failure kind.
const (
	exitOK = iota
	exitFailure
	exitParse
	exitCompile
	exitExecution
)

// loggedError marks an error the command already reported through its
// logger.
type loggedError struct{ error }

func (e loggedError) Unwrap() error { return e.error }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses args, executes the selected command and maps its error to an
// exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(ctx, stdout, stderr)
	if _, err := app.Parse(args); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintf(stderr, "pipeframe: error: %v\n", err)
		}
		return exitCode(err)
	}
	return exitOK
}

func newApp(ctx context.Context, stdout, stderr io.Writer) *kingpin.Application {
	app := kingpin.New("pipeframe", "Compile and run declarative operation pipelines over columnar data.")
	app.Version(version.Info().Short())
	app.UsageWriter(stdout)
	app.ErrorWriter(stderr)
	app.HelpFlag.Short('h')

	addRunCommand(ctx, app, stdout, stderr)
	addCheckCommand(ctx, app, stdout, stderr)
	addVersionCommand(app, stdout)
	return app
}

func exitCode(err error) int {
	switch dferrors.KindOf(err) {
	case dferrors.KindParse:
		return exitParse
	case dferrors.KindExpression, dferrors.KindOperation:
		return exitCompile
	case dferrors.KindExecution:
		return exitExecution
	}
	return exitFailure
}

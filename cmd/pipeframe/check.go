package main

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/paveg/pipeframe/internal/config"
	"github.com/paveg/pipeframe/internal/executor"
	dfio "github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/logging"
)

// checkCommand validates a job document without writing anything. When
// an input is declared, the operations are compiled against its schema.
type checkCommand struct {
	ctx    context.Context
	job    jobFlags
	stdout io.Writer
	stderr io.Writer
}

func addCheckCommand(ctx context.Context, app *kingpin.Application, stdout, stderr io.Writer) {
	cmd := &checkCommand{ctx: ctx, stdout: stdout, stderr: stderr}
	clause := app.Command("check", "Validate a job document and type-check its operations.").Action(cmd.run)
	cmd.job.registerInput(clause)
}

func (cmd *checkCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.job.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.stderr, cfg.LoggingOptions())
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		level.Warn(logger).Log("msg", w)
	}

	if err := cmd.check(cfg, executor.New(executor.Options{Logger: logger})); err != nil {
		level.Error(logger).Log("msg", "check failed", "err", err)
		return loggedError{err}
	}
	return nil
}

func (cmd *checkCommand) check(cfg config.Config, exec *executor.Executor) error {
	fmt.Fprintln(cmd.stdout, cfg.Pipeline.String())
	if cfg.Input.Path == "" {
		fmt.Fprintln(cmd.stdout, "ok: no input declared, operations were not type-checked")
		return nil
	}

	input, err := dfio.Read(cmd.ctx, cfg.InputOptions(nil))
	if err != nil {
		return err
	}
	defer input.Release()

	if err := exec.Check(cmd.ctx, cfg.Pipeline, input.Schema()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.stdout, "ok: %d operations checked against %s (%d columns)\n",
		cfg.Pipeline.Len(), cfg.Input.Path, input.Width())
	return nil
}

package main

import (
	"context"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/paveg/pipeframe/internal/config"
	"github.com/paveg/pipeframe/internal/executor"
	dfio "github.com/paveg/pipeframe/internal/io"
	"github.com/paveg/pipeframe/internal/logging"
	"github.com/paveg/pipeframe/internal/monitoring"
	"github.com/paveg/pipeframe/internal/parallel"
	"github.com/paveg/pipeframe/internal/version"
	"github.com/prometheus/client_golang/prometheus"
)

// runCommand reads the input, applies the job's operations and writes the
// result.
type runCommand struct {
	ctx     context.Context
	job     jobFlags
	metrics bool
	stdout  io.Writer
	stderr  io.Writer
}

func addRunCommand(ctx context.Context, app *kingpin.Application, stdout, stderr io.Writer) {
	cmd := &runCommand{ctx: ctx, stdout: stdout, stderr: stderr}
	clause := app.Command("run", "Run a job document.").Action(cmd.run)
	cmd.job.registerInput(clause)
	cmd.job.registerOutput(clause)
	clause.Flag("metrics", "Write the run's metrics to stderr in the Prometheus text format.").BoolVar(&cmd.metrics)
}

func (cmd *runCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.job.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.stderr, cfg.LoggingOptions())
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "loaded job", "config", cmd.job.configFile, "version", version.Info().Short())
	for _, w := range cfg.Warnings() {
		level.Warn(logger).Log("msg", w)
	}

	reg := prometheus.NewRegistry()
	pool := parallel.NewWorkerPool(cfg.Engine.WorkerPoolSize)
	defer pool.Close()

	opts := executor.Options{
		Logger:            logger,
		Metrics:           monitoring.NewMetrics(reg),
		Pool:              pool,
		ParallelThreshold: cfg.Engine.ParallelThreshold,
	}
	if cfg.Schema != nil {
		opts.Validator = cfg.Schema
	}

	err = cmd.execute(cfg, executor.New(opts), logger)
	if cmd.metrics {
		if werr := monitoring.WriteText(cmd.stderr, reg); werr != nil {
			level.Warn(logger).Log("msg", "writing metrics failed", "err", werr)
		}
	}
	if err != nil {
		level.Error(logger).Log("msg", "run failed", "err", err)
		return loggedError{err}
	}
	return nil
}

func (cmd *runCommand) execute(cfg config.Config, exec *executor.Executor, logger log.Logger) error {
	input, err := dfio.Read(cmd.ctx, cfg.InputOptions(nil))
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "read input", "path", cfg.Input.Path, "rows", input.Len(), "columns", input.Width())

	result, err := exec.Run(cmd.ctx, cfg.Pipeline, input)
	if err != nil {
		return err
	}
	defer result.Release()

	out := cfg.OutputOptions()
	out.Stdout, out.Stderr = cmd.stdout, cmd.stderr
	if err := dfio.Write(cmd.ctx, result, out); err != nil {
		return err
	}
	level.Info(logger).Log("msg", "wrote output", "destination", out.Destination, "path", out.Path, "rows", result.Len())
	return nil
}

package main

import (
	"github.com/alecthomas/kingpin/v2"
	"github.com/paveg/pipeframe/internal/config"
	dfio "github.com/paveg/pipeframe/internal/io"
)

// stdoutPath as --output sends the result to stdout.
const stdoutPath = "-"

// jobFlags are the command line overrides of a job document. They apply
// after the document and the PIPEFRAME_* environment.
type jobFlags struct {
	configFile string

	input       string
	inputFormat string

	output      string
	format      string
	compression string

	logLevel  string
	logFormat string

	workers      int
	workersSet   bool
	threshold    int
	thresholdSet bool
}

func (f *jobFlags) registerInput(cmd *kingpin.CmdClause) {
	cmd.Flag("config", "Job document (.toml, .yaml or .json).").Short('c').Required().ExistingFileVar(&f.configFile)
	cmd.Flag("input", "Input path, overriding input.path.").Short('i').StringVar(&f.input)
	cmd.Flag("input.format", "Input format, overriding input.format.").StringVar(&f.inputFormat)
	cmd.Flag("log.level", "Log level: debug, info, warn or error.").StringVar(&f.logLevel)
	cmd.Flag("log.format", "Log format: logfmt or json.").StringVar(&f.logFormat)
}

func (f *jobFlags) registerOutput(cmd *kingpin.CmdClause) {
	cmd.Flag("output", "Output path, overriding output.path. '-' writes to stdout.").Short('o').StringVar(&f.output)
	cmd.Flag("format", "Output format, overriding output.format.").Short('f').StringVar(&f.format)
	cmd.Flag("compression", "Output compression, overriding output.compression.").StringVar(&f.compression)
	cmd.Flag("workers", "Worker pool size, 0 for one per CPU.").IsSetByUser(&f.workersSet).IntVar(&f.workers)
	cmd.Flag("parallel-threshold", "Row count from which work is spread over the pool.").IsSetByUser(&f.thresholdSet).IntVar(&f.threshold)
}

// load reads the job document and applies the environment, then the flags,
// and validates the result.
func (f *jobFlags) load() (config.Config, error) {
	cfg, err := config.LoadFromFile(f.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (f *jobFlags) apply(cfg *config.Config) {
	if f.input != "" {
		cfg.Input.Path = f.input
	}
	if f.inputFormat != "" {
		cfg.Input.Format = f.inputFormat
	}
	switch f.output {
	case "":
	case stdoutPath:
		cfg.Output.Destination = dfio.DestinationStdout
		cfg.Output.Path = ""
	default:
		cfg.Output.Destination = dfio.DestinationFile
		cfg.Output.Path = f.output
	}
	if f.format != "" {
		cfg.Output.Format = f.format
	}
	if f.compression != "" {
		cfg.Output.Compression = f.compression
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.workersSet {
		cfg.Engine.WorkerPoolSize = f.workers
	}
	if f.thresholdSet {
		cfg.Engine.ParallelThreshold = f.threshold
	}
}

package main

import (
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/paveg/pipeframe/internal/version"
)

type versionCommand struct {
	short  bool
	deps   bool
	stdout io.Writer
}

func addVersionCommand(app *kingpin.Application, stdout io.Writer) {
	cmd := &versionCommand{stdout: stdout}
	clause := app.Command("version", "Print build information.").Action(cmd.run)
	clause.Flag("short", "Print only the version.").BoolVar(&cmd.short)
	clause.Flag("deps", "Also list the linked modules.").BoolVar(&cmd.deps)
}

func (cmd *versionCommand) run(_ *kingpin.ParseContext) error {
	info := version.Info()
	if cmd.short {
		_, err := fmt.Fprintln(cmd.stdout, info.Short())
		return err
	}
	if _, err := io.WriteString(cmd.stdout, info.String()); err != nil {
		return err
	}
	if cmd.deps {
		return info.WriteDeps(cmd.stdout)
	}
	return nil
}

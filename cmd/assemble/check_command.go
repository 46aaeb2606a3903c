package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/spf13/cobra"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify ffmpeg, ffprobe and the workspace root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tools := assembly.NewToolchain(ctx.cfg, nil, ctx.logger)
			out := cmd.OutOrStdout()

			var errs []error
			report := func(name string, err error) {
				if err != nil {
					fmt.Fprintf(out, "✗ %-10s %v\n", name, err)
					errs = append(errs, err)
					return
				}
				fmt.Fprintf(out, "✓ %s\n", name)
			}

			report("ffmpeg", tools.Runner.Available(cmd.Context()))
			report("ffprobe", tools.Prober.Available())
			report("workspace", checkWritable(ctx.cfg.Assembly.WorkspaceRoot))

			return errors.Join(errs...)
		},
	}
}

// checkWritable creates the directory if needed and writes a probe file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, assembly.WorkspacePrefix+"check-")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nextconvert/assembler/internal/modules/assembly"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	manifest   string
	output     string
	workspace  string
	debugDir   string
	noProgress bool
	jsonOut    bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render a manifest to a video file",
		Example: `  assemble run --manifest story.yaml --output out/story.mp4
  cat story.json | assemble run --manifest - --debug-dir ./segments`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := LoadManifest(opts.manifest)
			if err != nil {
				return err
			}
			return runManifest(cmd, ctx, m, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "", "YAML or JSON manifest (\"-\" for stdin)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (default: <run id> plus the format extension)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", "", "Override ASSEMBLY_WORKSPACE_ROOT")
	cmd.Flags().StringVar(&opts.debugDir, "debug-dir", "", "Keep intermediate segments in this directory")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runManifest(cmd *cobra.Command, ctx *commandContext, m *Manifest, opts *runOptions) error {
	cfg := *ctx.cfg
	// Manifest paths are already resolved against the manifest directory and
	// name files the operator chose, so they are not confined to the server's asset root.
	cfg.Assembly.AssetRoot = ""
	if opts.workspace != "" {
		cfg.Assembly.WorkspaceRoot = opts.workspace
	}
	if opts.debugDir != "" {
		cfg.Assembly.DebugSegments = true
		cfg.Assembly.DebugDir = opts.debugDir
	}

	output := outputPath(opts.output, m)
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tools := assembly.NewToolchain(&cfg, nil, ctx.logger)
	pipeline := assembly.FromConfig(&cfg, tools, nil, nil, ctx.logger)

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onProgress assembly.ProgressFunc
	if !opts.noProgress {
		bar := newProgressBar(cmd.ErrOrStderr())
		defer bar.Finish()
		onProgress = progressReporter(bar)
	}

	res, err := pipeline.Run(runCtx, assembly.Request{
		RunID:      m.RunID,
		Scenes:     m.Scenes,
		Settings:   m.Settings,
		OutputPath: output,
		OnProgress: onProgress,
	})
	if err != nil {
		if runCtx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	for _, w := range res.Warnings {
		ctx.logger.Warn("Assembly warning", zap.String("warning", w))
	}
	return printResult(cmd.OutOrStdout(), res, opts.jsonOut)
}

// outputPath defaults to the run id, or "assembly", in the working directory.
func outputPath(flag string, m *Manifest) string {
	if flag != "" {
		return flag
	}
	name := m.RunID
	if name == "" {
		name = "assembly"
	}
	return name + m.Settings.Normalize().Extension()
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(string(assembly.StateInit)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
	)
}

// progressBar is the part of *progressbar.ProgressBar a reporter drives.
type progressBar interface {
	Describe(description string)
	Set(num int) error
}

// progressReporter maps pipeline progress onto a 0-100 bar labelled with
// the latest message. The bar never moves backwards.
func progressReporter(bar progressBar) assembly.ProgressFunc {
	last := -1
	label := ""
	return func(p assembly.Progress) {
		desc := p.Message
		if desc == "" {
			desc = string(p.Stage)
		}
		if desc != label {
			label = desc
			bar.Describe(desc)
		}
		pct := int(p.Percent)
		if pct > last {
			last = pct
			_ = bar.Set(pct)
		}
	}
}

func printResult(w io.Writer, res *assembly.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", res.RunID)
	fmt.Fprintf(&b, "Output:   %s\n", res.OutputPath)
	fmt.Fprintf(&b, "Duration: %.2fs\n", res.DurationSeconds)
	if res.MusicApplied {
		fmt.Fprintf(&b, "Music:    %s\n", res.MusicSource)
	}
	for _, p := range res.DebugPaths {
		fmt.Fprintf(&b, "Debug:    %s\n", p)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(&b, "Warning:  %s\n", warn)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

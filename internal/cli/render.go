package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/eqrender/internal/config"
	"github.com/matzehuels/eqrender/pkg/equation"
	"github.com/matzehuels/eqrender/pkg/pipeline"
)

// renderCommand creates the render command. The root command runs the same
// batch when invoked without a subcommand.
func (c *CLI) renderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render every equation of the input file",
		Long: `Render reads the input file, substitutes each non-blank line into the
template, compiles it and writes:

  pdf/<output>_<i>.pdf       compiled document
  png/<output>_<i>@2x.png    rasterized image, padded to --width
  logs/<output>_<i>.log      compiler log

A compiler timeout or a missing PDF is reported as a warning and the batch
continues with the next equation.`,
		Args: cobra.NoArgs,
		RunE: c.runRender,
	}
	addRenderFlags(cmd)
	return cmd
}

// addRenderFlags registers the batch flags on cmd. Defaults come from the
// config package so help output matches what an unset flag resolves to.
func addRenderFlags(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()
	f.StringP("latex", "l", def.Latex, "LaTeX compiler executable")
	f.StringSlice("latex-args", def.LatexArgs, "arguments passed to the compiler before the .tex file")
	f.StringP("png", "p", def.PNG, "PDF rasterizer executable")
	f.StringP("input", "i", def.Input, "equation file, one equation per line")
	f.StringP("output", "o", def.Output, "base name of generated files")
	f.IntP("dpi", "r", def.DPI, "rasterization resolution")
	f.IntP("width", "w", def.Width, "minimum PNG width in pixels")
	f.StringP("template", "t", def.Template, "template name, read from <templates-dir>/<name>.tex")
	f.String("templates-dir", def.TemplatesDir, "template directory")
	f.Duration("timeout", def.Timeout, "compiler timeout per equation")
	f.Bool("keep-temp", false, "keep the temp/ scratch directory")
	f.Bool("no-index", false, "omit the _<i> suffix (single-equation input only)")
	f.Bool("no-cache", false, "disable the render cache")
	f.String("cache-url", "", "shared render cache (redis://host:port/db)")
	f.Bool("watch", false, "re-render when the input file or templates change")
	f.Bool("refresh", false, "ignore cached results and recompile")

	_ = cmd.RegisterFlagCompletionFunc("template", completeTemplates)
}

func (c *CLI) runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFromContext(ctx)
	refresh, _ := cmd.Flags().GetBool("refresh")

	if cfg.Watch {
		return c.watch(ctx, cfg, refresh)
	}
	_, err := c.renderBatch(ctx, cfg, refresh)
	return err
}

// renderBatch runs one batch over the configured input and prints the
// summary. Per-equation failures are reported in the result, not as error.
func (c *CLI) renderBatch(ctx context.Context, cfg *config.Config, refresh bool) (*pipeline.Result, error) {
	logger := loggerFromContext(ctx)
	input := cfg.Resolve(cfg.Input)

	eqs, err := equation.ReadFile(input)
	if err != nil {
		return nil, err
	}
	if len(eqs) == 0 {
		printWarning("No equations in %s", input)
		return &pipeline.Result{}, nil
	}
	logger.Info("Rendering", "input", input, "equations", len(eqs))

	rc, err := newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := c.newRunner(ctx, cfg, cfg.Workdir, rc)
	defer runner.Close()

	opts := cfg.PipelineOptions()
	opts.Logger = logger
	opts.Refresh = refresh

	var spinner *Spinner
	if cfg.Verbose == 0 && spinnerEnabled() {
		spinner = newSpinnerWithContext(ctx, "Rendering")
		opts.Progress = func(eq equation.Equation, total int) {
			spinner.SetMessage(fmt.Sprintf("Rendering %d/%d", eq.Index+1, total))
		}
		spinner.Start()
	}

	prog := newProgress(logger)
	result, err := runner.Execute(ctx, opts, eqs)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return result, err
	}
	prog.done(fmt.Sprintf("Rendered %d of %d equations", result.Stats.Rendered, result.Stats.Total))

	if cfg.Verbose > 0 {
		printSummary(result, cfg.Workdir)
	} else if result.Stats.Failed > 0 {
		printWarning("%s", result.Stats)
	}
	return result, nil
}

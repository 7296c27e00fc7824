package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/engine"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/store"
)

// InstrumentOptions holds flags for the instrument command.
type InstrumentOptions struct {
	*RootOptions
	Policy     string
	Strategy   string
	Mechanism  string
	NoSimplify bool
	Temporal   bool
	Filters    []string
	Profile    string
	DotDir     string
	Database   string
	Output     string

	// RunIDs and Clock override the engine defaults (for testing).
	RunIDs engine.RunIDGenerator
	Clock  engine.Clock
}

// InstrumentResult is the payload of a finished run.
type InstrumentResult struct {
	Report   *store.RunDetail `json:"report"`
	Totals   engine.Totals    `json:"totals"`
	Declared []string         `json:"declared"`
	Output   string           `json:"output,omitempty"`
}

// NewInstrumentCommand creates the instrument command.
func NewInstrumentCommand(rootOpts *RootOptions) *cobra.Command {
	return newInstrumentCommand(&InstrumentOptions{RootOptions: rootOpts})
}

func newInstrumentCommand(opts *InstrumentOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instrument <module.yaml>",
		Short: "Instrument a module",
		Long: `Classify, filter and instrument every defined function of a module.

Classification runs over the whole module first. If any diagnostic is
recorded the module is left untouched and the command fails. Otherwise
each function receives witnesses and checks from the selected mechanism.

Flags override the configuration file and MEMINSTRUMENT_* variables.

Examples:
  meminstrument instrument ./module.yaml
  meminstrument instrument ./module.yaml --mechanism lowfat --temporal -o out.ll
  meminstrument instrument ./module.yaml --filter annotation --db ./runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstrument(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "instrumentation policy (access-only|before-outflow)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "witness strategy (after-inflow|source)")
	cmd.Flags().StringVar(&opts.Mechanism, "mechanism", "", "runtime mechanism (splay|lowfat|dummy)")
	cmd.Flags().BoolVar(&opts.NoSimplify, "no-simplify", false, "skip witness graph simplification")
	cmd.Flags().BoolVar(&opts.Temporal, "temporal", false, "add liveness checks")
	cmd.Flags().StringSliceVar(&opts.Filters, "filter", nil, "filters in order (annotation,dominance,hotness); empty disables filtering")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "block execution profile for the hotness filter")
	cmd.Flags().StringVar(&opts.DotDir, "dot-dir", "", "write one witness graph per function to this directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the instrumented module to this file (- for stdout)")

	return cmd
}

// applyFlags copies the explicitly set flags over cfg.
func (opts *InstrumentOptions) applyFlags(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		set := cmd.Flags().Changed
		if set("policy") {
			cfg.Policy = opts.Policy
		}
		if set("strategy") {
			cfg.Strategy = opts.Strategy
		}
		if set("mechanism") {
			cfg.Mechanism = opts.Mechanism
		}
		if set("no-simplify") {
			cfg.Simplify = !opts.NoSimplify
		}
		if set("temporal") {
			cfg.Temporal = opts.Temporal
		}
		if set("filter") {
			cfg.Filters = opts.Filters
		}
		if set("profile") {
			cfg.Profile = opts.Profile
		}
		if set("dot-dir") {
			cfg.DotDir = opts.DotDir
		}
		if set("db") {
			cfg.DB = opts.Database
		}
	}
}

func runInstrument(opts *InstrumentOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts.RootOptions, cmd, opts.applyFlags(cmd))
	if err != nil {
		return loadError(f, err)
	}
	m, err := LoadModule(path)
	if err != nil {
		return loadError(f, err)
	}
	engOpts, err := cfg.EngineOptions()
	if err != nil {
		return loadError(f, &LoadError{Code: ErrCodeConfig, Message: err.Error()})
	}

	var options []engine.Option
	if opts.RunIDs != nil {
		options = append(options, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Clock != nil {
		options = append(options, engine.WithClock(opts.Clock))
	}
	if cfg.DB != "" {
		f.VerboseLog("Recording run in %s", cfg.DB)
		st, err := store.Open(cfg.DB)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		options = append(options, engine.WithStore(st))
	}

	eng, err := engine.New(engOpts, options...)
	if err != nil {
		return optionsError(f, err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := eng.Run(ctx, m)
	if report == nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, runErr)
	}
	result := InstrumentResult{Report: report.Detail(), Totals: report.Totals(), Declared: report.Declared}

	if runErr != nil {
		return outputRunFailure(f, result, runErr)
	}

	if opts.Output != "" {
		if err := writeModule(opts.Output, cmd.OutOrStdout(), m); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
		result.Output = opts.Output
	}

	if f.JSON() {
		return f.OK(result, result.Report.Run.ID)
	}
	if opts.Output == "-" {
		// the module went to stdout, keep the summary off it
		f.Writer = f.logWriter()
	}
	fmt.Fprintf(f.Writer, "✓ Instrumented %s (run %s)\n", result.Report.Run.Module, result.Report.Run.ID)
	return writeRunSummary(f.Writer, result.Report, result.Declared)
}

// outputRunFailure reports a failed run. The report is still shown so the
// diagnostics or the functions done before a violation are visible.
func outputRunFailure(f *OutputFormatter, result InstrumentResult, runErr error) error {
	code, message := ErrCodeGeneric, runErr.Error()
	var ie *engine.InstrumentError
	if errors.As(runErr, &ie) {
		code, message = string(ie.Code), ie.Message
		if ie.Function != "" {
			message += " (function " + ie.Function + ")"
		}
	}

	if f.JSON() {
		if err := f.Response(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: code, Message: message},
			RunID:  result.Report.Run.ID,
		}); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, code, runErr)
	}

	fmt.Fprintf(f.Writer, "✗ Run %s failed [%s]: %s\n", result.Report.Run.ID, code, message)
	if err := writeRunSummary(f.Writer, result.Report, result.Declared); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, code, runErr)
}

// writeModule prints m to path, or to stdout when path is "-".
func writeModule(path string, stdout io.Writer, m *ir.Module) error {
	if path == "-" {
		return ir.Print(stdout, m)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := ir.Print(out, m); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

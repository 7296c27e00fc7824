package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/filter"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/policy"
)

// TargetsOptions holds flags for the targets command.
type TargetsOptions struct {
	*RootOptions
	Policy   string
	Temporal bool
	Filters  []string
	Profile  string
	Function string
}

// TargetInfo is one classified target.
type TargetInfo struct {
	Target string `json:"target"`
	Valid  bool   `json:"valid"`
}

// FunctionTargets lists the targets of one function after filtering.
type FunctionTargets struct {
	Function string       `json:"function"`
	Targets  []TargetInfo `json:"targets"`
}

// TargetsResult is the payload of the targets command.
type TargetsResult struct {
	Policy      string            `json:"policy"`
	Filters     []string          `json:"filters"`
	Functions   []FunctionTargets `json:"functions"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TargetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "targets <module.yaml>",
		Short: "List the instrumentation targets of a module",
		Long: `Classify every defined function and run the filters, without
building witness graphs or changing the module.

Targets invalidated by a filter are still listed, marked invalid.

Examples:
  meminstrument targets ./module.yaml
  meminstrument targets ./module.yaml --policy before-outflow --filter ""
  meminstrument targets ./module.yaml --function walk --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "instrumentation policy (access-only|before-outflow)")
	cmd.Flags().BoolVar(&opts.Temporal, "temporal", false, "add liveness checks")
	cmd.Flags().StringSliceVar(&opts.Filters, "filter", nil, "filters in order; empty disables filtering")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "block execution profile for the hotness filter")
	cmd.Flags().StringVar(&opts.Function, "function", "", "only list this function")

	return cmd
}

func runTargets(opts *TargetsOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts.RootOptions, cmd, func(cfg *config.Config) {
		set := cmd.Flags().Changed
		if set("policy") {
			cfg.Policy = opts.Policy
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
	})
	if err != nil {
		return loadError(f, err)
	}
	m, err := LoadModule(path)
	if err != nil {
		return loadError(f, err)
	}
	fns, err := selectFunctions(m, opts.Function)
	if err != nil {
		return loadError(f, err)
	}
	engOpts, err := cfg.EngineOptions()
	if err != nil {
		return loadError(f, &LoadError{Code: ErrCodeConfig, Message: err.Error()})
	}

	diags := diag.NewCollector()
	pol, err := policy.New(engOpts.Policy, policy.Options{Temporal: engOpts.Temporal, Diagnostics: diags})
	if err != nil {
		return optionsError(f, err)
	}
	pipeline, err := filter.NewPipeline(engOpts.Filters, filter.Options{
		Profile:      engOpts.Profile,
		HotThreshold: engOpts.HotThreshold,
		DomCacheSize: engOpts.DomCacheSize,
	})
	if err != nil {
		return optionsError(f, err)
	}

	result := TargetsResult{
		Policy:    pol.Name(),
		Filters:   engOpts.Filters,
		Functions: []FunctionTargets{},
	}
	for _, fn := range fns {
		targets := pipeline.Run(fn, policy.ClassifyFunction(pol, fn))
		result.Functions = append(result.Functions, FunctionTargets{Function: fn.Name(), Targets: targetInfos(targets)})
	}
	result.Diagnostics = diags.All()

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if len(result.Diagnostics) > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "DIAGNOSTICS", Message: fmt.Sprintf("%d diagnostic(s)", len(result.Diagnostics))}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeTargets(f, result)
	}
	if len(result.Diagnostics) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d diagnostic(s)", len(result.Diagnostics)))
	}
	return nil
}

// selectFunctions returns the defined functions of m, or only the named one.
func selectFunctions(m *ir.Module, name string) ([]*ir.Function, error) {
	if name == "" {
		return m.Defined(), nil
	}
	fn := m.Function(name)
	if fn == nil || fn.IsDeclaration() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("function not defined in module: %s", name)}
	}
	return []*ir.Function{fn}, nil
}

func targetInfos(targets []*itarget.ITarget) []TargetInfo {
	out := make([]TargetInfo, len(targets))
	for i, t := range targets {
		out[i] = TargetInfo{Target: t.String(), Valid: t.IsValid()}
	}
	return out
}

func writeTargets(f *OutputFormatter, result TargetsResult) {
	w := f.Writer
	for _, ft := range result.Functions {
		valid := 0
		for _, t := range ft.Targets {
			if t.Valid {
				valid++
			}
		}
		fmt.Fprintf(w, "@%s: %d target(s), %d valid\n", ft.Function, len(ft.Targets), valid)
		for _, t := range ft.Targets {
			fmt.Fprintf(w, "  %s\n", t.Target)
		}
	}
	if len(result.Diagnostics) > 0 {
		fmt.Fprintf(w, "✗ %d diagnostic(s):\n", len(result.Diagnostics))
		for _, d := range result.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}

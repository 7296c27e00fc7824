package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/filter"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/mechanism"
	"github.com/roach88/meminstrument/internal/policy"
	"github.com/roach88/meminstrument/internal/witness"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Function   string
	Dot        bool
	Calls      bool
	Policy     string
	Strategy   string
	NoSimplify bool
	Filters    []string
}

// GraphResult is the payload of the graph command.
type GraphResult struct {
	Function string                 `json:"function"`
	Strategy string                 `json:"strategy"`
	Stats    witness.Stats          `json:"stats"`
	Classes  []witness.WitnessClass `json:"classes"`
	Dot      string                 `json:"dot,omitempty"`
	Calls    []string               `json:"calls,omitempty"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph <module.yaml> --function <name>",
		Short: "Show the witness graph of one function",
		Long: `Build, propagate and simplify the witness graph of one function and
materialize it with the dummy mechanism, which changes nothing but
shows which targets share a witness.

By default the witness classes are printed, one per line. --dot prints
the graph in Graphviz syntax instead.

Examples:
  meminstrument graph ./module.yaml --function walk
  meminstrument graph ./module.yaml --function walk --dot | dot -Tsvg > walk.svg
  meminstrument graph ./module.yaml --function walk --strategy source --calls`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Function, "function", "", "function to show (required)")
	cmd.Flags().BoolVar(&opts.Dot, "dot", false, "print the graph in dot syntax")
	cmd.Flags().BoolVar(&opts.Calls, "calls", false, "also print the mechanism calls")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "instrumentation policy (access-only|before-outflow)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "witness strategy (after-inflow|source)")
	cmd.Flags().BoolVar(&opts.NoSimplify, "no-simplify", false, "skip witness graph simplification")
	cmd.Flags().StringSliceVar(&opts.Filters, "filter", nil, "filters in order; empty disables filtering")
	_ = cmd.MarkFlagRequired("function")

	return cmd
}

func runGraph(opts *GraphOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts.RootOptions, cmd, func(cfg *config.Config) {
		set := cmd.Flags().Changed
		if set("policy") {
			cfg.Policy = opts.Policy
		}
		if set("strategy") {
			cfg.Strategy = opts.Strategy
		}
		if set("no-simplify") {
			cfg.Simplify = !opts.NoSimplify
		}
		if set("filter") {
			cfg.Filters = opts.Filters
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
	strategy, err := witness.NewStrategy(engOpts.Strategy, witness.Options{Simplify: engOpts.Simplify})
	if err != nil {
		return optionsError(f, err)
	}

	fn := fns[0]
	targets := policy.ClassifyFunction(pol, fn)
	if err := diags.Err(); err != nil {
		return f.Fail(ExitFailure, "DIAGNOSTICS", err, diags.All())
	}
	targets = pipeline.Run(fn, targets)

	dummy, err := mechanism.New(mechanism.NameDummy)
	if err != nil {
		return optionsError(f, err)
	}
	rec := mechanism.NewRecorder(dummy)
	g, err := buildGraph(m, fn, strategy, rec, targets)
	if err != nil {
		return f.Fail(ExitFailure, "CONTRACT_VIOLATION", err)
	}

	result := GraphResult{
		Function: fn.Name(),
		Strategy: strategy.Name(),
		Stats:    g.Stats(),
		Classes:  g.WitnessClasses(),
	}
	if opts.Calls {
		for _, c := range rec.Calls() {
			result.Calls = append(result.Calls, c.String())
		}
	}

	if opts.Dot {
		if f.JSON() {
			var sb strings.Builder
			if err := g.WriteDot(&sb); err != nil {
				return err
			}
			result.Dot = sb.String()
		} else {
			return g.WriteDot(f.Writer)
		}
	}

	if f.JSON() {
		return f.OK(result, "")
	}
	s := result.Stats
	fmt.Fprintf(f.Writer, "@%s (%s): %d external, %d internal, %d witness(es)\n",
		result.Function, result.Strategy, s.Externals, s.Internals, s.Witnesses)
	for _, c := range result.Classes {
		fmt.Fprintf(f.Writer, "  %s\n", c)
	}
	if len(result.Calls) > 0 {
		fmt.Fprintln(f.Writer, "calls:")
		for _, c := range result.Calls {
			fmt.Fprintf(f.Writer, "  %s\n", c)
		}
	}
	return nil
}

// buildGraph runs graph construction and materialization for fn. A
// contract violation comes back as an error.
func buildGraph(m *ir.Module, fn *ir.Function, s witness.Strategy, mech mechanism.Mechanism, targets []*itarget.ITarget) (g *witness.Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := witness.AsContractError(r)
			if !ok {
				panic(r)
			}
			g, err = nil, ce
		}
	}()

	g = witness.NewGraph(fn, s)
	for _, t := range targets {
		if t.IsValid() {
			g.InsertRequiredTarget(t)
		}
	}
	g.PropagateFlags()
	g.Simplify()

	mc := mechanism.NewContext(m)
	mech.Initialize(mc)
	g.CreateWitnesses(mc, mech)
	return g, nil
}

func optionsError(f *OutputFormatter, err error) error {
	return f.Fail(ExitCommandError, ErrCodeOptions, err)
}

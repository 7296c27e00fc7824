package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/filter"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/mechanism"
	"github.com/roach88/meminstrument/internal/policy"
	"github.com/roach88/meminstrument/internal/store"
	"github.com/roach88/meminstrument/internal/witness"
)

// Options select the components of a run.
type Options struct {
	Policy    string
	Strategy  string
	Mechanism string
	// Simplify enables witness graph simplification.
	Simplify bool
	// Temporal adds liveness checks to every check target.
	Temporal bool
	// Filters run in order after classification.
	Filters []string
	// Profile and HotThreshold configure the hotness filter.
	Profile      *filter.Profile
	HotThreshold int64
	// DomCacheSize bounds the dominance filter's dominator-tree cache.
	DomCacheSize int
	// DotDir, when set, receives one witness graph dump per function.
	DotDir string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Policy:    policy.NameAccessOnly,
		Strategy:  witness.NameAfterInflow,
		Mechanism: mechanism.NameSplay,
		Simplify:  true,
		Filters:   []string{filter.NameAnnotation, filter.NameDominance},
	}
}

// Engine instruments modules.
//
// A run has two phases:
//  1. Every defined function is classified. If any diagnostic was recorded
//     the run fails before the module is touched.
//  2. Each function in module order goes through filters, witness graph
//     construction, flag propagation, simplification, witness
//     materialization, explicit bounds and checks.
//
// A contract violation in phase 2 stops the run at that function.
//
// An Engine may be reused; every run gets a fresh diagnostic collector and
// sequence. It is not safe for concurrent runs.
type Engine struct {
	opts     Options
	filters  filter.Pipeline
	strategy witness.Strategy
	mech     mechanism.Mechanism

	runIDs   RunIDGenerator
	clock    Clock
	store    *store.Store
	domCache *filter.DomCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithStore persists every run report to s.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMechanism replaces the mechanism named in Options, e.g. with a
// mechanism.Recorder.
func WithMechanism(m mechanism.Mechanism) Option {
	return func(e *Engine) { e.mech = m }
}

// WithDomCache shares c with the dominance filter, so runs over modules
// loaded again from the same source reuse their dominator trees.
func WithDomCache(c *filter.DomCache) Option {
	return func(e *Engine) { e.domCache = c }
}

// New validates opts and builds an engine. Unknown component names are
// reported here rather than at run time.
func New(opts Options, options ...Option) (*Engine, error) {
	if _, err := policy.New(opts.Policy, policy.Options{}); err != nil {
		return nil, err
	}
	strategy, err := witness.NewStrategy(opts.Strategy, witness.Options{Simplify: opts.Simplify})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:     opts,
		strategy: strategy,
		runIDs:   UUIDv7Generator{},
		clock:    SystemClock{},
	}
	for _, opt := range options {
		opt(e)
	}
	e.filters, err = filter.NewPipeline(opts.Filters, filter.Options{
		Profile:      opts.Profile,
		HotThreshold: opts.HotThreshold,
		DomCache:     e.domCache,
		DomCacheSize: opts.DomCacheSize,
	})
	if err != nil {
		return nil, err
	}
	if e.mech == nil {
		if e.mech, err = mechanism.New(opts.Mechanism); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Options returns the engine's options.
func (e *Engine) Options() Options { return e.opts }

// Mechanism returns the backend the engine drives.
func (e *Engine) Mechanism() mechanism.Mechanism { return e.mech }

// Run instruments m in place and returns the run report.
//
// The report is returned even when the run fails, so callers can show the
// diagnostics or the functions processed before a violation. When a store
// is configured the report is persisted either way.
func (e *Engine) Run(ctx context.Context, m *ir.Module) (*Report, error) {
	pol, diags, err := e.newPolicy()
	if err != nil {
		return nil, err
	}
	report := &Report{
		Run: store.Run{
			ID:          e.runIDs.Generate(),
			StartedAt:   e.clock.Now(),
			Module:      m.Name,
			ModuleHash:  ir.ModuleFingerprint(m),
			Policy:      pol.Name(),
			Strategy:    e.strategy.Name(),
			Mechanism:   e.mech.Name(),
			Simplify:    e.opts.Simplify,
			Filters:     slices.Clone(e.opts.Filters),
			ToolVersion: ir.ToolVersion,
		},
		Functions:   []store.FunctionReport{},
		Diagnostics: []diag.Diagnostic{},
		Declared:    []string{},
	}
	slog.Info("run starting",
		"run_id", report.Run.ID,
		"module", m.Name,
		"policy", report.Run.Policy,
		"strategy", report.Run.Strategy,
		"mechanism", report.Run.Mechanism,
	)

	err = e.run(ctx, m, pol, diags, report)
	if err != nil {
		report.Run.Status = store.StatusFailed
		report.Run.Error = err.Error()
		slog.Error("run failed", "run_id", report.Run.ID, "error", err)
	} else {
		report.Run.Status = store.StatusOK
		slog.Info("run finished",
			"run_id", report.Run.ID,
			"functions", len(report.Functions),
			"checks", report.Totals().Checks,
		)
	}

	if e.store != nil {
		// a cancelled run is still recorded
		if serr := e.store.WriteRun(context.WithoutCancel(ctx), report.Run, report.Functions, report.Diagnostics); serr != nil {
			serr := NewStoreError(report.Run.ID, serr)
			if err != nil {
				// the run failure is the more important error
				slog.Error("persist failed run", "run_id", report.Run.ID, "error", serr)
			} else {
				err = serr
			}
		}
	}
	return report, err
}

func (e *Engine) newPolicy() (policy.Policy, *diag.Collector, error) {
	diags := diag.NewCollector()
	pol, err := policy.New(e.opts.Policy, policy.Options{Temporal: e.opts.Temporal, Diagnostics: diags})
	return pol, diags, err
}

func (e *Engine) run(ctx context.Context, m *ir.Module, pol policy.Policy, diags *diag.Collector, report *Report) error {
	if e.opts.Profile != nil {
		for _, name := range e.opts.Profile.Unknown(m) {
			slog.Warn("profile names an unknown function", "function", name)
		}
	}

	// Phase 1: classify everything before touching the module.
	fns := m.Defined()
	targets := make([][]*itarget.ITarget, len(fns))
	for i, f := range fns {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run %s: %w", report.Run.ID, err)
		}
		targets[i] = policy.ClassifyFunction(pol, f)
	}
	report.Diagnostics = diags.All()
	if err := diags.Err(); err != nil {
		return NewDiagnosticsError(report.Run.ID, err)
	}

	// Phase 2: instrument function by function.
	mc := mechanism.NewContext(m)
	e.mech.Initialize(mc)
	defer func() { report.Declared = mc.Declared() }()
	seq := NewSequence()
	for i, f := range fns {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run %s: %w", report.Run.ID, err)
		}
		fr, err := e.instrumentFunction(mc, f, targets[i], report.Run.ID)
		if err != nil {
			return err
		}
		fr.Seq = seq.Next()
		report.Functions = append(report.Functions, fr)
	}
	return nil
}

// instrumentFunction runs phase 2 for one function. Contract violations
// raised anywhere below are recovered here and returned as errors.
func (e *Engine) instrumentFunction(mc *mechanism.Context, f *ir.Function, targets []*itarget.ITarget, runID string) (fr store.FunctionReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := witness.AsContractError(r)
			if !ok {
				panic(r)
			}
			slog.Error("contract violation", "function", f.Name(), "op", ce.Op, "error", ce.Message)
			err = NewContractError(runID, f.Name(), ce)
		}
	}()

	targets = e.filters.Run(f, targets)

	g := witness.NewGraph(f, e.strategy)
	for _, t := range targets {
		if t.IsValid() {
			g.InsertRequiredTarget(t)
		}
	}
	g.PropagateFlags()
	g.Simplify()
	if e.opts.DotDir != "" {
		if err := writeDot(e.opts.DotDir, g); err != nil {
			return fr, err
		}
	}
	g.CreateWitnesses(mc, e.mech)

	valid := itarget.Valid(targets)
	for _, t := range valid {
		if t.HasFlags(itarget.RequiresExplicitBounds) {
			e.mech.MaterializeBounds(mc, t)
		}
	}
	checks := 0
	for _, t := range valid {
		if t.HasCheck() || t.HasFlags(itarget.CheckTemporal) {
			e.mech.InsertCheck(mc, t)
			checks++
		}
	}
	if ic := mechanism.InvariantCheckerOf(e.mech); ic != nil {
		for _, t := range valid {
			if t.Kind().IsInvariant() {
				ic.InsertInvariantCheck(mc, t)
				checks++
			}
		}
	}

	stats := itarget.Summarize(targets)
	gs := g.Stats()
	fr = store.FunctionReport{
		Function:    f.Name(),
		Fingerprint: ir.Fingerprint(f),
		Targets:     stats.Total,
		Valid:       stats.Valid,
		ByKind:      byKindNames(stats.ByKind),
		Externals:   gs.Externals,
		Internals:   gs.Internals,
		Witnesses:   gs.Witnesses,
		Checks:      checks,
	}
	slog.Debug("function instrumented",
		"function", f.Name(),
		"targets", fr.Targets,
		"valid", fr.Valid,
		"witnesses", fr.Witnesses,
		"checks", fr.Checks,
	)
	return fr, nil
}

func byKindNames(byKind map[itarget.Kind]int) map[string]int {
	out := make(map[string]int, len(byKind))
	for k, n := range byKind {
		out[k.String()] = n
	}
	return out
}

// DotFileName is the name of the witness graph dump written for fn.
func DotFileName(fn string) string { return "witnessgraph_" + fn + ".dot" }

func writeDot(dir string, g *witness.Graph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dot directory: %w", err)
	}
	path := filepath.Join(dir, DotFileName(g.Function().Name()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dot file: %w", err)
	}
	if err := g.WriteDot(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database    string
	Limit       int
	Function    string
	Fingerprint string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show recorded runs",
		Long: `Query the run database written by instrument --db.

Without arguments the most recent runs are listed. With a run ID the
run is shown with its function reports and diagnostics.

--function lists every stored report of a function across runs.
--fingerprint lists the reports of functions with the given body hash,
whatever their name.

Examples:
  meminstrument report --db ./runs.db
  meminstrument report --db ./runs.db 0190a5c4-...
  meminstrument report --db ./runs.db --function walk --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the run database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.Function, "function", "", "show the history of one function")
	cmd.Flags().StringVar(&opts.Fingerprint, "fingerprint", "", "show reports of functions with this fingerprint")
	cmd.MarkFlagsMutuallyExclusive("function", "fingerprint")

	return cmd
}

func runReport(opts *ReportOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts.RootOptions, cmd, func(cfg *config.Config) {
		if cmd.Flags().Changed("db") {
			cfg.DB = opts.Database
		}
	})
	if err != nil {
		return loadError(f, err)
	}
	if cfg.DB == "" {
		return f.Fail(ExitCommandError, ErrCodeStore, errors.New("no run database: pass --db or set db in the configuration"))
	}

	if cfg.DB != ":memory:" {
		if _, err := os.Stat(cfg.DB); err != nil {
			return loadError(f, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s", cfg.DB)})
		}
	}
	st, err := openReportStore(f, cfg.DB)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case len(args) == 1:
		detail, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return f.Fail(ExitCommandError, ErrCodeNotFound, err)
		}
		if err != nil {
			return storeQueryError(f, err)
		}
		if f.JSON() {
			return f.OK(detail, detail.Run.ID)
		}
		writeRunHeader(f.Writer, detail.Run)
		return writeRunSummary(f.Writer, detail, nil)

	case opts.Function != "" || opts.Fingerprint != "":
		var (
			reports []store.FunctionReport
			err     error
		)
		if opts.Function != "" {
			reports, err = st.FunctionHistory(ctx, opts.Function)
		} else {
			reports, err = st.ReportsByFingerprint(ctx, opts.Fingerprint)
		}
		if err != nil {
			return storeQueryError(f, err)
		}
		if f.JSON() {
			return f.OK(reports, "")
		}
		if len(reports) == 0 {
			fmt.Fprintln(f.Writer, "No reports found")
			return nil
		}
		return writeFunctionHistory(f.Writer, reports)

	default:
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return storeQueryError(f, err)
		}
		if f.JSON() {
			return f.OK(runs, "")
		}
		if len(runs) == 0 {
			fmt.Fprintln(f.Writer, "No runs recorded")
			return nil
		}
		return writeRunList(f.Writer, runs)
	}
}

func storeQueryError(f *OutputFormatter, err error) error {
	return f.Fail(ExitCommandError, ErrCodeStore, fmt.Errorf("query run database: %w", err))
}

func writeRunHeader(w io.Writer, r store.Run) {
	status := "✓"
	if r.Status != store.StatusOK {
		status = "✗"
	}
	fmt.Fprintf(w, "%s Run %s: %s (%s)\n", status, r.ID, r.Module, r.StartedAt.Format(time.RFC3339))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

// writeRunSummary renders a run's configuration, per-function table,
// totals and diagnostics. declared may be nil when it is not known.
func writeRunSummary(w io.Writer, d *store.RunDetail, declared []string) error {
	r := d.Run
	fmt.Fprintf(w, "  policy %s, strategy %s, mechanism %s, simplify %t, filters [%s]\n",
		r.Policy, r.Strategy, r.Mechanism, r.Simplify, strings.Join(r.Filters, ","))

	if len(d.Functions) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  FUNCTION\tTARGETS\tVALID\tWITNESSES\tCHECKS")
		var targets, valid, witnesses, checks int
		for _, fr := range d.Functions {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\n", fr.Function, fr.Targets, fr.Valid, fr.Witnesses, fr.Checks)
			targets += fr.Targets
			valid += fr.Valid
			witnesses += fr.Witnesses
			checks += fr.Checks
		}
		fmt.Fprintf(tw, "  total\t%d\t%d\t%d\t%d\n", targets, valid, witnesses, checks)
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(d.Diagnostics) > 0 {
		fmt.Fprintf(w, "  %d diagnostic(s):\n", len(d.Diagnostics))
		for _, dg := range d.Diagnostics {
			fmt.Fprintf(w, "    %s\n", dg)
		}
	}
	if len(declared) > 0 {
		fmt.Fprintf(w, "  declared: %s\n", strings.Join(declared, ", "))
	}
	return nil
}

func writeRunList(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tMODULE\tPOLICY\tMECHANISM\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Module, r.Policy, r.Mechanism, r.Status)
	}
	return tw.Flush()
}

func writeFunctionHistory(w io.Writer, reports []store.FunctionReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFUNCTION\tFINGERPRINT\tTARGETS\tVALID\tWITNESSES\tCHECKS")
	for _, fr := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			fr.RunID, fr.Function, shortHash(fr.Fingerprint), fr.Targets, fr.Valid, fr.Witnesses, fr.Checks)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// openReportStore opens db for reading. A database left at an older schema
// by an earlier build is migrated first; a newer one is refused.
func openReportStore(f *OutputFormatter, db string) (*store.Store, error) {
	if db == ":memory:" {
		return store.Open(db)
	}
	st, err := store.Open(db, store.ReadOnly())
	var sv *store.SchemaVersionError
	if errors.As(err, &sv) && sv.Found < sv.Want {
		f.VerboseLog("Migrating %s from schema v%d to v%d", db, sv.Found, sv.Want)
		migrated, err := store.Open(db)
		if err != nil {
			return nil, err
		}
		if err := migrated.Close(); err != nil {
			return nil, err
		}
		return store.Open(db, store.ReadOnly())
	}
	return st, err
}

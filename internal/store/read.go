package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/meminstrument/internal/diag"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

const runColumns = `id, started_at, module, module_hash, policy, strategy, mechanism, simplify, filters, status, error, tool_version`

// scanner is the subset of *sql.Row and *sql.Rows used by the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r         Run
		startedAt string
		filters   string
	)
	if err := row.Scan(&r.ID, &startedAt, &r.Module, &r.ModuleHash, &r.Policy, &r.Strategy,
		&r.Mechanism, &r.Simplify, &filters, &r.Status, &r.Error, &r.ToolVersion); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = unmarshalTime(startedAt); err != nil {
		return Run{}, err
	}
	if r.Filters, err = unmarshalFilters(filters); err != nil {
		return Run{}, err
	}
	return r, nil
}

// ReadRun returns a run with its function reports and diagnostics.
// Returns ErrNotFound (wrapped) if the run does not exist.
func (s *Store) ReadRun(ctx context.Context, id string) (*RunDetail, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}

	fns, err := s.queryFunctionReports(ctx, `
		SELECT run_id, seq, function, fingerprint, targets, valid_targets, by_kind, externals, internals, witnesses, checks
		FROM function_reports
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, err
	}
	diags, err := s.readDiagnostics(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Functions: fns, Diagnostics: diags}, nil
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id COLLATE BINARY ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// FunctionHistory returns every stored report for the named function,
// oldest run first.
func (s *Store) FunctionHistory(ctx context.Context, function string) ([]FunctionReport, error) {
	return s.queryFunctionReports(ctx, `
		SELECT f.run_id, f.seq, f.function, f.fingerprint, f.targets, f.valid_targets, f.by_kind,
		       f.externals, f.internals, f.witnesses, f.checks
		FROM function_reports f
		JOIN runs r ON r.id = f.run_id
		WHERE f.function = ?
		ORDER BY r.started_at ASC, r.id COLLATE BINARY ASC, f.seq ASC
	`, function)
}

// ReportsByFingerprint returns the reports of every run that saw a function
// with the given content fingerprint, oldest run first.
func (s *Store) ReportsByFingerprint(ctx context.Context, fingerprint string) ([]FunctionReport, error) {
	return s.queryFunctionReports(ctx, `
		SELECT f.run_id, f.seq, f.function, f.fingerprint, f.targets, f.valid_targets, f.by_kind,
		       f.externals, f.internals, f.witnesses, f.checks
		FROM function_reports f
		JOIN runs r ON r.id = f.run_id
		WHERE f.fingerprint = ?
		ORDER BY r.started_at ASC, r.id COLLATE BINARY ASC, f.seq ASC
	`, fingerprint)
}

func (s *Store) queryFunctionReports(ctx context.Context, query string, args ...any) ([]FunctionReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query function reports: %w", err)
	}
	defer rows.Close()

	out := []FunctionReport{}
	for rows.Next() {
		var (
			fr     FunctionReport
			byKind string
		)
		if err := rows.Scan(&fr.RunID, &fr.Seq, &fr.Function, &fr.Fingerprint, &fr.Targets, &fr.Valid,
			&byKind, &fr.Externals, &fr.Internals, &fr.Witnesses, &fr.Checks); err != nil {
			return nil, fmt.Errorf("scan function report: %w", err)
		}
		if fr.ByKind, err = unmarshalByKind(byKind); err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate function reports: %w", err)
	}
	return out, nil
}

func (s *Store) readDiagnostics(ctx context.Context, runID string) ([]diag.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, function, location, message
		FROM diagnostics
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	out := []diag.Diagnostic{}
	for rows.Next() {
		var d diag.Diagnostic
		if err := rows.Scan(&d.Code, &d.Function, &d.Location, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/meminstrument/internal/diag"
)

// WriteRun inserts a run with its function reports and diagnostics in one
// transaction. Uses ON CONFLICT DO NOTHING for idempotency - writing the same
// run ID twice leaves the first write in place.
//
// Function reports and diagnostics are written with the seq they carry;
// diagnostics are numbered in the order given.
func (s *Store) WriteRun(ctx context.Context, run Run, fns []FunctionReport, diags []diag.Diagnostic) (err error) {
	if s.readOnly {
		return fmt.Errorf("write run %s: %w", run.ID, ErrReadOnly)
	}
	if run.ID == "" {
		return errors.New("write run: empty run ID")
	}
	if run.Status != StatusOK && run.Status != StatusFailed {
		return fmt.Errorf("write run: invalid status %q", run.Status)
	}
	filters, err := marshalFilters(run.Filters)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, started_at, module, module_hash, policy, strategy, mechanism, simplify, filters, status, error, tool_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		marshalTime(run.StartedAt),
		run.Module,
		run.ModuleHash,
		run.Policy,
		run.Strategy,
		run.Mechanism,
		run.Simplify,
		filters,
		run.Status,
		run.Error,
		run.ToolVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// already stored
		return tx.Commit()
	}

	for _, fr := range fns {
		if err := writeFunctionReport(ctx, tx, run.ID, fr); err != nil {
			return err
		}
	}
	for i, d := range diags {
		if err := writeDiagnostic(ctx, tx, run.ID, int64(i+1), d); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func writeFunctionReport(ctx context.Context, tx *sql.Tx, runID string, fr FunctionReport) error {
	byKind, err := marshalByKind(fr.ByKind)
	if err != nil {
		return fmt.Errorf("write function report %s: %w", fr.Function, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO function_reports
		(run_id, seq, function, fingerprint, targets, valid_targets, by_kind, externals, internals, witnesses, checks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		fr.Seq,
		fr.Function,
		fr.Fingerprint,
		fr.Targets,
		fr.Valid,
		byKind,
		fr.Externals,
		fr.Internals,
		fr.Witnesses,
		fr.Checks,
	)
	if err != nil {
		return fmt.Errorf("write function report %s: %w", fr.Function, err)
	}
	return nil
}

func writeDiagnostic(ctx context.Context, tx *sql.Tx, runID string, seq int64, d diag.Diagnostic) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO diagnostics
		(run_id, seq, code, function, location, message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, seq, d.Code, d.Function, d.Location, d.Message)
	if err != nil {
		return fmt.Errorf("write diagnostic %s: %w", d.Code, err)
	}
	return nil
}

// DeleteRun removes a run and, through the foreign keys, everything recorded
// for it. Deleting an unknown run is not an error.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if s.readOnly {
		return fmt.Errorf("delete run %s: %w", id, ErrReadOnly)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Module    string                     `json:"module,omitempty"`
	Functions int                        `json:"functions"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
	Warnings  []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <module.yaml>",
		Short: "Validate a module without instrumenting it",
		Long: `Parse, build and validate a module document.

Every structural problem is reported, not only the first. A valid module
is also checked for pointer phi cycles, which are reported as warnings:
they are legal but each one becomes a cyclic region of the witness graph.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	setupLogging(cmd, "warn", opts.Verbose)

	m, err := LoadModule(path)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) && len(le.Errors) > 0 {
			return outputValidationErrors(formatter, le.Errors)
		}
		return loadError(formatter, err)
	}

	result := ValidationResult{Valid: true, Module: m.Name}
	for _, f := range m.Defined() {
		result.Functions++
		formatter.VerboseLog("Checking phi cycles in @%s", f.Name())
		result.Warnings = append(result.Warnings, compiler.AnalyzePhiCycles(f)...)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.OK(result, "")
	}

	fmt.Fprintf(formatter.Writer, "✓ Module %s valid (%d function(s))\n", result.Module, result.Functions)
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s @%s: %s\n", w.Level, w.Function, w.Message)
	}
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := formatter.Response(response); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "%s\n", err.Field)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

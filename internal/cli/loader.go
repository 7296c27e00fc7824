package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/meminstrument/internal/compiler"
	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/ir"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Configuration file or environment rejected
	ErrCodeInvalid     = "E003" // Module failed to build or validate
	ErrCodeOptions     = "E004" // Unknown policy, strategy, mechanism or filter
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeStore       = "E006" // Run database could not be opened or queried
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadError represents an error that occurred while loading a module or
// configuration.
type LoadError struct {
	Code    string
	Message string
	// Errors holds the individual problems of a module that did not build.
	Errors []compiler.ValidationError
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModule reads and builds a module file. Every failure is a *LoadError.
func LoadModule(path string) (*ir.Module, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("module not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing module: %v", err)}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}

	m, err := compiler.LoadFile(path)
	if err != nil {
		var verrs compiler.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, &LoadError{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("%s: %d validation error(s)", path, len(verrs)),
				Errors:  verrs,
			}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return m, nil
}

// resolveConfig layers the configuration sources: built-in defaults or the
// --config file, then MEMINSTRUMENT_* variables, then the command's flags
// that were set explicitly.
func resolveConfig(opts *RootOptions, cmd *cobra.Command, flags func(*config.Config)) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", opts.Config)}
		}
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}
	if flags != nil {
		flags(cfg)
	}
	setupLogging(cmd, cfg.LogLevel, opts.Verbose)
	return cfg, nil
}

// setupLogging installs the process-wide slog handler on the command's
// stderr. --verbose wins over the configured level.
func setupLogging(cmd *cobra.Command, level string, verbose bool) {
	lvl := parseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// loadError reports err through the formatter and converts it to an exit
// error. Load problems are command errors.
func loadError(f *OutputFormatter, err error) error {
	var le *LoadError
	if !errors.As(err, &le) {
		le = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	var details []any
	if len(le.Errors) > 0 {
		details = append(details, le.Errors)
	}
	exitErr := f.Fail(ExitCommandError, le.Code, errors.New(le.Message), details...)
	if !f.JSON() {
		for _, ve := range le.Errors {
			fmt.Fprintf(f.Writer, "  %s\n", ve.Error())
		}
	}
	return exitErr
}

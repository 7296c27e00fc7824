package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/roach88/meminstrument/internal/engine"
	"github.com/roach88/meminstrument/internal/filter"
)

//go:embed schema.cue
var schemaSource string

// SupportedMajor is the configuration major version this build reads.
const SupportedMajor = "v1"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMINSTRUMENT_"

// Config is a decoded configuration file.
type Config struct {
	Version      string   `yaml:"version"`
	Policy       string   `yaml:"policy"`
	Strategy     string   `yaml:"strategy"`
	Mechanism    string   `yaml:"mechanism"`
	Simplify     bool     `yaml:"simplify"`
	Temporal     bool     `yaml:"temporal"`
	Filters      []string `yaml:"filters"`
	Profile      string   `yaml:"profile,omitempty"`
	HotThreshold int64    `yaml:"hot_threshold,omitempty"`
	DomCacheSize int      `yaml:"dom_cache_size,omitempty"`
	DotDir       string   `yaml:"dot_dir,omitempty"`
	DB           string   `yaml:"db,omitempty"`
	LogLevel     string   `yaml:"log_level,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	opts := engine.DefaultOptions()
	return &Config{
		Version:   SupportedMajor + ".0.0",
		Policy:    opts.Policy,
		Strategy:  opts.Strategy,
		Mechanism: opts.Mechanism,
		Simplify:  opts.Simplify,
		Filters:   opts.Filters,
		LogLevel:  "info",
	}
}

// Error is a configuration that failed to load.
type Error struct {
	// Path is the file, empty when parsing bytes.
	Path string
	// Problems lists every schema or decoding problem found.
	Problems []string
}

func (e *Error) Error() string {
	prefix := "invalid configuration"
	if e.Path != "" {
		prefix += " " + e.Path
	}
	if len(e.Problems) == 1 {
		return prefix + ": " + e.Problems[0]
	}
	return fmt.Sprintf("%s:\n  %s", prefix, strings.Join(e.Problems, "\n  "))
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	var cerr *Error
	if errors.As(err, &cerr) {
		cerr.Path = path
	}
	return cfg, err
}

// Parse decodes a configuration document. Keys absent from the document
// keep their Default values.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Problems: []string{err.Error()}}
	}
	if raw == nil {
		return nil, &Error{Problems: []string{"empty document"}}
	}
	if problems := checkSchema(raw); len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Problems: []string{err.Error()}}
	}
	if err := checkVersion(cfg.Version); err != nil {
		return nil, &Error{Problems: []string{err.Error()}}
	}
	return cfg, nil
}

// checkSchema unifies the document with #Config and returns one message per
// violation.
func checkSchema(doc map[string]any) []string {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// embedded schema is part of the binary
		panic(fmt.Sprintf("config schema: %v", err))
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(doc))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return out
}

func checkVersion(v string) error {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("version %q is not a semantic version", v)
	}
	if semver.Major(v) != SupportedMajor {
		return fmt.Errorf("version %s is not supported (want %s.x)", v, SupportedMajor)
	}
	return nil
}

// ApplyEnv overrides fields from MEMINSTRUMENT_* variables read through
// getenv. Unset or empty variables leave the field alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + key)); v != "" {
			*dst = v
		}
	}
	str("POLICY", &c.Policy)
	str("STRATEGY", &c.Strategy)
	str("MECHANISM", &c.Mechanism)
	str("DB", &c.DB)
	str("DOT_DIR", &c.DotDir)
	str("LOG_LEVEL", &c.LogLevel)
	if v := strings.TrimSpace(getenv(EnvPrefix + "TEMPORAL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sTEMPORAL: %w", EnvPrefix, err)
		}
		c.Temporal = b
	}
	return nil
}

// EngineOptions converts the configuration, loading the profile file when
// one is named.
func (c *Config) EngineOptions() (engine.Options, error) {
	opts := engine.Options{
		Policy:       c.Policy,
		Strategy:     c.Strategy,
		Mechanism:    c.Mechanism,
		Simplify:     c.Simplify,
		Temporal:     c.Temporal,
		Filters:      append([]string(nil), c.Filters...),
		HotThreshold: c.HotThreshold,
		DomCacheSize: c.DomCacheSize,
		DotDir:       c.DotDir,
	}
	if c.Profile != "" {
		p, err := filter.LoadProfile(c.Profile)
		if err != nil {
			return engine.Options{}, err
		}
		opts.Profile = p
	}
	return opts, nil
}

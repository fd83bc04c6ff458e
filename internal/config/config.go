// Package config provides configuration management for rulebook.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (RULEBOOK_*)
// 3. Project config (.rulebook/rulebook.json, JSON with comments allowed)
// 4. Home config (~/.rulebook/config.yaml)
// 5. Defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/hivellm/rulebook-sub008/internal/storage"
)

// Config holds all rulebook configuration.
type Config struct {
	// Version is the rulebook version that last wrote the project config.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// InstalledAt and UpdatedAt are RFC3339 timestamps maintained by init/update.
	InstalledAt string `yaml:"installed_at,omitempty" json:"installedAt,omitempty"`
	UpdatedAt   string `yaml:"updated_at,omitempty" json:"updatedAt,omitempty"`

	// ProjectName is used in generated files and Ralph prompts.
	ProjectName string `yaml:"project_name,omitempty" json:"projectName,omitempty"`

	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose,omitempty" json:"verbose,omitempty"`

	Languages  []string `yaml:"languages,omitempty" json:"languages,omitempty"`
	Frameworks []string `yaml:"frameworks,omitempty" json:"frameworks,omitempty"`
	IDEs       []string `yaml:"ides,omitempty" json:"ides,omitempty"`

	// CoverageThreshold is the minimum test coverage percentage (0-100).
	CoverageThreshold int `yaml:"coverage_threshold,omitempty" json:"coverageThreshold,omitempty"`

	// TasksDir is where task directories live, relative to the project root.
	TasksDir string `yaml:"tasks_dir,omitempty" json:"tasksDir,omitempty"`

	// AgentsFile is the generated guidance file, relative to the project root.
	AgentsFile string `yaml:"agents_file,omitempty" json:"agentsFile,omitempty"`

	Features FeaturesConfig `yaml:"features" json:"features"`
	Gates    GatesConfig    `yaml:"gates" json:"gates"`
	Ralph    RalphConfig    `yaml:"ralph" json:"ralph"`
}

// FeaturesConfig toggles optional subsystems.
type FeaturesConfig struct {
	GitHooks bool `yaml:"git_hooks,omitempty" json:"gitHooks,omitempty"`
	Ralph    bool `yaml:"ralph,omitempty" json:"ralph,omitempty"`
	MCP      bool `yaml:"mcp,omitempty" json:"mcp,omitempty"`
	Watcher  bool `yaml:"watcher,omitempty" json:"watcher,omitempty"`
}

// GatesConfig holds the shell commands for each quality gate.
// An empty command means the gate is judged from the AI tool output.
type GatesConfig struct {
	TypeCheck string `yaml:"type_check,omitempty" json:"typeCheck,omitempty"`
	Lint      string `yaml:"lint,omitempty" json:"lint,omitempty"`
	Test      string `yaml:"test,omitempty" json:"test,omitempty"`
	Coverage  string `yaml:"coverage,omitempty" json:"coverage,omitempty"`
}

// RalphConfig holds autonomous loop settings.
type RalphConfig struct {
	// Tool selects the AI CLI: claude, codex, gemini or custom.
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty"`

	// Command overrides the executable for the selected tool.
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are extra arguments; for the custom tool "{prompt}" is substituted.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	MaxIterations int `yaml:"max_iterations,omitempty" json:"maxIterations,omitempty"`

	// IterationTimeout is a Go duration string (e.g. "30m").
	IterationTimeout string `yaml:"iteration_timeout,omitempty" json:"iterationTimeout,omitempty"`

	// MaxFailures is the per-story attempt limit before a story is blocked;
	// it also stops the loop after that many consecutive AI tool failures.
	MaxFailures int `yaml:"max_failures,omitempty" json:"maxFailures,omitempty"`

	// Parallel is the maximum number of stories run concurrently.
	Parallel int `yaml:"parallel,omitempty" json:"parallel,omitempty"`

	CompletionSignal string `yaml:"completion_signal,omitempty" json:"completionSignal,omitempty"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput            = "table"
	defaultCoverageThreshold = 95
	defaultTasksDir          = "rulebook/tasks"
	defaultAgentsFile        = "AGENTS.md"
	defaultRalphTool         = "claude"
	defaultMaxIterations     = 10
	defaultIterationTimeout  = "30m"
	defaultMaxFailures       = 3
	defaultParallel          = 1

	// DefaultCompletionSignal is what the AI tool prints when it believes the story is done.
	DefaultCompletionSignal = "<promise>COMPLETE</promise>"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:            defaultOutput,
		CoverageThreshold: defaultCoverageThreshold,
		TasksDir:          defaultTasksDir,
		AgentsFile:        defaultAgentsFile,
		Ralph: RalphConfig{
			Tool:             defaultRalphTool,
			MaxIterations:    defaultMaxIterations,
			IterationTimeout: defaultIterationTimeout,
			MaxFailures:      defaultMaxFailures,
			Parallel:         defaultParallel,
			CompletionSignal: DefaultCompletionSignal,
		},
	}
}

// IterationTimeoutDuration parses Ralph.IterationTimeout, falling back to the default.
func (c *Config) IterationTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.Ralph.IterationTimeout)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(defaultIterationTimeout)
	return d
}

// Load loads configuration for the project at root with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(root string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, err := LoadProject(ProjectConfigPath(root))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rulebook", "config.yaml")
}

// ProjectConfigPath returns the project config path for root.
// RULEBOOK_CONFIG overrides the location.
func ProjectConfigPath(root string) string {
	if override := strings.TrimSpace(os.Getenv("RULEBOOK_CONFIG")); override != "" {
		return override
	}
	return storage.ForProject(root).ConfigPath()
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadProject reads the project JSON config. Comments and trailing commas are
// tolerated. A missing file returns an error satisfying os.IsNotExist.
func LoadProject(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return &cfg, nil
}

// SaveProject writes cfg as the project JSON config.
func SaveProject(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return storage.WriteFileAtomic(path, append(data, '\n'))
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("RULEBOOK_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if os.Getenv("RULEBOOK_VERBOSE") == "true" || os.Getenv("RULEBOOK_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("RULEBOOK_TASKS_DIR"); v != "" {
		cfg.TasksDir = v
	}
	if v, ok := getEnvInt("RULEBOOK_COVERAGE_THRESHOLD"); ok {
		cfg.CoverageThreshold = v
	}
	if v := os.Getenv("RULEBOOK_RALPH_TOOL"); v != "" {
		cfg.Ralph.Tool = v
	}
	if v := os.Getenv("RULEBOOK_RALPH_COMMAND"); v != "" {
		cfg.Ralph.Command = v
	}
	if v, ok := getEnvInt("RULEBOOK_RALPH_MAX_ITERATIONS"); ok {
		cfg.Ralph.MaxIterations = v
	}
	if v := os.Getenv("RULEBOOK_RALPH_TIMEOUT"); v != "" {
		cfg.Ralph.IterationTimeout = v
	}
	if v, ok := getEnvInt("RULEBOOK_RALPH_PARALLEL"); ok {
		cfg.Ralph.Parallel = v
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// mergeList overwrites dst with src when src is non-empty.
func mergeList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = append([]string(nil), src...)
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans use OR semantics: a layer can enable but not disable.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Version, src.Version)
	mergeStr(&dst.InstalledAt, src.InstalledAt)
	mergeStr(&dst.UpdatedAt, src.UpdatedAt)
	mergeStr(&dst.ProjectName, src.ProjectName)
	mergeStr(&dst.Output, src.Output)
	if src.Verbose {
		dst.Verbose = true
	}
	mergeList(&dst.Languages, src.Languages)
	mergeList(&dst.Frameworks, src.Frameworks)
	mergeList(&dst.IDEs, src.IDEs)
	mergeInt(&dst.CoverageThreshold, src.CoverageThreshold)
	mergeStr(&dst.TasksDir, src.TasksDir)
	mergeStr(&dst.AgentsFile, src.AgentsFile)

	mergeFeatures(&dst.Features, &src.Features)
	mergeGates(&dst.Gates, &src.Gates)
	mergeRalph(&dst.Ralph, &src.Ralph)

	return dst
}

// mergeFeatures merges feature toggles.
func mergeFeatures(dst, src *FeaturesConfig) {
	dst.GitHooks = dst.GitHooks || src.GitHooks
	dst.Ralph = dst.Ralph || src.Ralph
	dst.MCP = dst.MCP || src.MCP
	dst.Watcher = dst.Watcher || src.Watcher
}

// mergeGates merges quality gate commands.
func mergeGates(dst, src *GatesConfig) {
	mergeStr(&dst.TypeCheck, src.TypeCheck)
	mergeStr(&dst.Lint, src.Lint)
	mergeStr(&dst.Test, src.Test)
	mergeStr(&dst.Coverage, src.Coverage)
}

// mergeRalph merges Ralph-specific config fields.
func mergeRalph(dst, src *RalphConfig) {
	mergeStr(&dst.Tool, src.Tool)
	mergeStr(&dst.Command, src.Command)
	mergeList(&dst.Args, src.Args)
	mergeInt(&dst.MaxIterations, src.MaxIterations)
	mergeStr(&dst.IterationTimeout, src.IterationTimeout)
	mergeInt(&dst.MaxFailures, src.MaxFailures)
	mergeInt(&dst.Parallel, src.Parallel)
	mergeStr(&dst.CompletionSignal, src.CompletionSignal)
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.rulebook/config.yaml"
	SourceProject Source = ".rulebook/rulebook.json"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool returns the boolean value and whether it was truthy.
func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "true" || v == "1" {
		return true, true
	}
	return false, false
}

// getEnvInt returns the integer value and whether it parsed.
func getEnvInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}

	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}

	return result
}

type resolved struct {
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// ResolvedField is one config key with its effective value and origin.
type ResolvedField struct {
	Key    string      `json:"key" yaml:"key"`
	Value  interface{} `json:"value" yaml:"value"`
	Source Source      `json:"source" yaml:"source"`
}

// resolvableKey describes a scalar key for source tracking.
type resolvableKey struct {
	key    string
	env    string
	getter func(*Config) string
}

func intString(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

var resolvableKeys = []resolvableKey{
	{"output", "RULEBOOK_OUTPUT", func(c *Config) string { return c.Output }},
	{"projectName", "", func(c *Config) string { return c.ProjectName }},
	{"coverageThreshold", "RULEBOOK_COVERAGE_THRESHOLD", func(c *Config) string { return intString(c.CoverageThreshold) }},
	{"tasksDir", "RULEBOOK_TASKS_DIR", func(c *Config) string { return c.TasksDir }},
	{"agentsFile", "", func(c *Config) string { return c.AgentsFile }},
	{"gates.typeCheck", "", func(c *Config) string { return c.Gates.TypeCheck }},
	{"gates.lint", "", func(c *Config) string { return c.Gates.Lint }},
	{"gates.test", "", func(c *Config) string { return c.Gates.Test }},
	{"gates.coverage", "", func(c *Config) string { return c.Gates.Coverage }},
	{"ralph.tool", "RULEBOOK_RALPH_TOOL", func(c *Config) string { return c.Ralph.Tool }},
	{"ralph.command", "RULEBOOK_RALPH_COMMAND", func(c *Config) string { return c.Ralph.Command }},
	{"ralph.maxIterations", "RULEBOOK_RALPH_MAX_ITERATIONS", func(c *Config) string { return intString(c.Ralph.MaxIterations) }},
	{"ralph.iterationTimeout", "RULEBOOK_RALPH_TIMEOUT", func(c *Config) string { return c.Ralph.IterationTimeout }},
	{"ralph.maxFailures", "", func(c *Config) string { return intString(c.Ralph.MaxFailures) }},
	{"ralph.parallel", "RULEBOOK_RALPH_PARALLEL", func(c *Config) string { return intString(c.Ralph.Parallel) }},
	{"ralph.completionSignal", "", func(c *Config) string { return c.Ralph.CompletionSignal }},
}

// Resolve returns configuration with source tracking for every scalar key.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(root string, flags *Config, flagVerbose bool) []ResolvedField {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := LoadProject(ProjectConfigPath(root))
	defaults := Default()

	value := func(c *Config, get func(*Config) string) string {
		if c == nil {
			return ""
		}
		return get(c)
	}

	fields := make([]ResolvedField, 0, len(resolvableKeys)+1)
	for _, k := range resolvableKeys {
		var env string
		if k.env != "" {
			env, _ = getEnvString(k.env)
		}
		r := resolveStringField(
			value(homeConfig, k.getter),
			value(projectConfig, k.getter),
			env,
			value(flags, k.getter),
			k.getter(defaults),
		)
		fields = append(fields, ResolvedField{Key: k.key, Value: r.Value, Source: r.Source})
	}

	// Verbose is a boolean with OR semantics through the chain.
	verbose := resolved{Value: false, Source: SourceDefault}
	if homeConfig != nil && homeConfig.Verbose {
		verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectConfig != nil && projectConfig.Verbose {
		verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerbose, set := getEnvBool("RULEBOOK_VERBOSE"); set && envVerbose {
		verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		verbose = resolved{Value: true, Source: SourceFlag}
	}
	fields = append(fields, ResolvedField{Key: "verbose", Value: verbose.Value, Source: verbose.Source})

	return fields
}

// Set assigns a scalar key (as listed by Resolve) on cfg from its string form.
func Set(cfg *Config, key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidValue, key, value)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, key)
		}
		return n, nil
	}
	atob := func() (bool, error) {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return false, fmt.Errorf("%w: %s expects true or false, got %q", ErrInvalidValue, key, value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "output":
		cfg.Output = value
	case "projectName":
		cfg.ProjectName = value
	case "coverageThreshold":
		var n int
		if n, err = atoi(); err == nil {
			if n > 100 {
				return fmt.Errorf("%w: coverageThreshold must be between 0 and 100", ErrInvalidValue)
			}
			cfg.CoverageThreshold = n
		}
	case "tasksDir":
		cfg.TasksDir = value
	case "agentsFile":
		cfg.AgentsFile = value
	case "gates.typeCheck":
		cfg.Gates.TypeCheck = value
	case "gates.lint":
		cfg.Gates.Lint = value
	case "gates.test":
		cfg.Gates.Test = value
	case "gates.coverage":
		cfg.Gates.Coverage = value
	case "ralph.tool":
		cfg.Ralph.Tool = value
	case "ralph.command":
		cfg.Ralph.Command = value
	case "ralph.maxIterations":
		cfg.Ralph.MaxIterations, err = atoi()
	case "ralph.iterationTimeout":
		if _, perr := time.ParseDuration(value); perr != nil {
			return fmt.Errorf("%w: ralph.iterationTimeout expects a duration like 30m", ErrInvalidValue)
		}
		cfg.Ralph.IterationTimeout = value
	case "ralph.maxFailures":
		cfg.Ralph.MaxFailures, err = atoi()
	case "ralph.parallel":
		cfg.Ralph.Parallel, err = atoi()
	case "ralph.completionSignal":
		cfg.Ralph.CompletionSignal = value
	case "features.gitHooks":
		cfg.Features.GitHooks, err = atob()
	case "features.ralph":
		cfg.Features.Ralph, err = atob()
	case "features.mcp":
		cfg.Features.MCP, err = atob()
	case "features.watcher":
		cfg.Features.Watcher, err = atob()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return err
}

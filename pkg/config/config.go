// Package config loads and validates the flywheel's YAML configuration,
// following the defaults-then-override pattern the rest of the toolkit uses.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a crank run.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Backlog   BacklogConfig   `yaml:"backlog"`
	History   HistoryConfig   `yaml:"history"`
	Runner    RunnerConfig    `yaml:"runner"`
	Fixer     FixerConfig     `yaml:"fixer"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Reporting ReportingConfig `yaml:"reporting"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Cancel    CancelConfig    `yaml:"cancel"`
}

// FrameworkConfig contains general framework settings.
type FrameworkConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// BacklogConfig locates and bounds the issue backlog (C1).
type BacklogConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig locates the append-only history log (C2).
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// RunnerConfig bounds the trace-runner pool (C4).
type RunnerConfig struct {
	TestsDir        string        `yaml:"tests_dir"`
	RunsDir         string        `yaml:"runs_dir"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	RunnerBin       string        `yaml:"runner_bin"`
	PerTestTimeout  time.Duration `yaml:"per_test_timeout"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// FixerConfig bounds the external fixer collaborator invoked during FIX.
type FixerConfig struct {
	Bin     string        `yaml:"bin"`
	Timeout time.Duration `yaml:"timeout"`
}

// MatcherConfig bounds the external matcher collaborator and the
// MATCH_WAIT suspension point that follows spawning it.
type MatcherConfig struct {
	Bin           string        `yaml:"bin"`
	FeedbackPath  string        `yaml:"feedback_path"`
	DecisionsPath string        `yaml:"decisions_path"`
	MaxWait       time.Duration `yaml:"max_wait"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// ScoringConfig locates the baseline archive and bounds the validator's
// pass threshold (C5/C6).
type ScoringConfig struct {
	PassThreshold float64 `yaml:"pass_threshold"`
	BaselineDir   string  `yaml:"baseline_dir"`
	TrendPath     string  `yaml:"trend_path"`
}

// ReportingConfig contains output and summary-printing settings.
type ReportingConfig struct {
	OutputDir string `yaml:"output_dir"`
	Format    string `yaml:"format"`
	KeepLast  int    `yaml:"keep_last"`
}

// TelemetryConfig enables the ambient Prometheus exporter.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CancelConfig contains cooperative-cancellation settings.
type CancelConfig struct {
	StopFile             string        `yaml:"stop_file"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	EnableSignalHandlers bool          `yaml:"enable_signal_handlers"`
}

// DefaultConfig returns a configuration with sane defaults for running out
// of a repository checkout.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:   "v1",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Backlog: BacklogConfig{
			Path: "./flywheel/backlog.json",
		},
		History: HistoryConfig{
			Path: "./flywheel/history.ndjson",
		},
		Runner: RunnerConfig{
			TestsDir:       "./tests",
			RunsDir:        "./flywheel/runs",
			MaxConcurrency: 6,
			RunnerBin:      "run-test",
			PerTestTimeout: 5 * time.Minute,
			ShutdownGrace:  5 * time.Second,
		},
		Fixer: FixerConfig{
			Bin:     "apply-fix",
			Timeout: 15 * time.Minute,
		},
		Matcher: MatcherConfig{
			Bin:           "match-feedback",
			FeedbackPath:  "./flywheel/extracted-feedback.json",
			DecisionsPath: "./flywheel/match-decisions.json",
			MaxWait:       10 * time.Minute,
			PollInterval:  2 * time.Second,
		},
		Scoring: ScoringConfig{
			PassThreshold: 0.5,
			BaselineDir:   "./flywheel/baseline",
			TrendPath:     "./flywheel/trend.ndjson",
		},
		Reporting: ReportingConfig{
			OutputDir: "./flywheel/reports",
			KeepLast:  50,
			Format:    "text",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Listen:  ":9464",
		},
		Cancel: CancelConfig{
			StopFile:             "/tmp/flywheel-emergency-stop",
			PollInterval:         1 * time.Second,
			EnableSignalHandlers: true,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// path does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "flywheel.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backlog.Path == "" {
		return fmt.Errorf("backlog.path is required")
	}
	if c.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if c.Runner.TestsDir == "" {
		return fmt.Errorf("runner.tests_dir is required")
	}
	if c.Runner.MaxConcurrency < 1 {
		return fmt.Errorf("runner.max_concurrency must be at least 1")
	}
	if c.Matcher.MaxWait <= 0 {
		return fmt.Errorf("matcher.max_wait must be positive")
	}
	return nil
}

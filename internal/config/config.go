// Package config holds the harness settings: built-in defaults, overlaid by
// an optional YAML file, overlaid by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lab-harness/internal/harness"
	"lab-harness/internal/readiness"
	"lab-harness/internal/suite"
	"lab-harness/internal/supervisor"
)

// Duration is a time.Duration that reads Go duration strings ("250ms") from
// YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Readiness struct {
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

type Shutdown struct {
	GracePeriod  Duration `yaml:"grace_period"`
	KillWait     Duration `yaml:"kill_wait"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

type Suite struct {
	CaseTimeout Duration `yaml:"case_timeout"`
	Concurrency int      `yaml:"concurrency"`
}

type Config struct {
	Host string `yaml:"host"`
	// Port 0 picks a fresh port for every mode.
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
	Root string `yaml:"root"`
	// Exe and Assets default to paths under Root.
	Exe         string `yaml:"exe"`
	Assets      string `yaml:"assets"`
	DB          string `yaml:"db"`
	MetricsFile string `yaml:"metrics_file"`

	Readiness    Readiness `yaml:"readiness"`
	Shutdown     Shutdown  `yaml:"shutdown"`
	CaptureBytes int64     `yaml:"capture_bytes"`
	Suite        Suite     `yaml:"suite"`
}

func Default() Config {
	return Config{
		Host: "127.0.0.1",
		Mode: harness.SelectAll,
		Root: ".",
		Readiness: Readiness{
			Timeout:      Duration(readiness.DefaultTimeout),
			PollInterval: Duration(readiness.DefaultPollInterval),
		},
		Shutdown: Shutdown{
			GracePeriod:  Duration(supervisor.DefaultGracePeriod),
			KillWait:     Duration(supervisor.DefaultKillWait),
			DrainTimeout: Duration(supervisor.DefaultDrainTimeout),
		},
		CaptureBytes: supervisor.DefaultCaptureBytes,
		Suite: Suite{
			CaseTimeout: Duration(suite.DefaultCaseTimeout),
			Concurrency: suite.DefaultConcurrency,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ExePath is the server executable, <root>/lab8/lab8 unless set.
func (c Config) ExePath() string {
	if c.Exe != "" {
		return c.Exe
	}
	return filepath.Join(c.Root, "lab8", "lab8")
}

// AssetsPath is the full-mode document root, <root>/assets unless set.
func (c Config) AssetsPath() string {
	if c.Assets != "" {
		return c.Assets
	}
	return filepath.Join(c.Root, "assets")
}

func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := harness.ParseSelector(c.Mode); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]Duration{
		"readiness.timeout":       c.Readiness.Timeout,
		"readiness.poll_interval": c.Readiness.PollInterval,
		"shutdown.grace_period":   c.Shutdown.GracePeriod,
		"shutdown.kill_wait":      c.Shutdown.KillWait,
		"shutdown.drain_timeout":  c.Shutdown.DrainTimeout,
		"suite.case_timeout":      c.Suite.CaseTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d.Std()))
		}
	}
	if c.CaptureBytes <= 0 {
		errs = append(errs, fmt.Errorf("capture_bytes must be positive, got %d", c.CaptureBytes))
	}
	if c.Suite.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("suite.concurrency must be positive, got %d", c.Suite.Concurrency))
	}
	return errors.Join(errs...)
}

// HarnessConfig converts to what the runner consumes.
func (c Config) HarnessConfig() harness.Config {
	return harness.Config{
		Exe:        c.ExePath(),
		AssetsRoot: c.AssetsPath(),
		Host:       c.Host,
		Port:       c.Port,
		Readiness: readiness.Options{
			Timeout:      c.Readiness.Timeout.Std(),
			PollInterval: c.Readiness.PollInterval.Std(),
		},
		GracePeriod:  c.Shutdown.GracePeriod.Std(),
		KillWait:     c.Shutdown.KillWait.Std(),
		DrainTimeout: c.Shutdown.DrainTimeout.Std(),
		CaptureBytes: c.CaptureBytes,
	}
}

func (c Config) SuiteOptions() suite.Options {
	return suite.Options{
		CaseTimeout: c.Suite.CaseTimeout.Std(),
		Concurrency: c.Suite.Concurrency,
	}
}

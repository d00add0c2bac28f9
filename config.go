package cikit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/kubermatic/cikit/flags"
	"github.com/kubermatic/cikit/junit"
)

// Config holds the configuration shared by every subcommand.
type Config struct {
	LogLevel     string
	TestName     string
	ArtifactsDir string
	ClassName    string

	Log *charmlog.Logger
}

// NewConfig creates a Config from the global CLI flags.
func NewConfig(cliCtx *cli.Context, logger *charmlog.Logger) (*Config, error) {
	artifactsDir := cliCtx.String(flags.ArtifactsDir.Name)
	if artifactsDir != "" {
		abs, err := filepath.Abs(artifactsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for artifacts directory %q: %w", artifactsDir, err)
		}
		artifactsDir = abs
	}

	return &Config{
		LogLevel:     cliCtx.String(flags.LogLevel.Name),
		TestName:     cliCtx.String(flags.TestName.Name),
		ArtifactsDir: artifactsDir,
		ClassName:    cliCtx.String(flags.ClassName.Name),
		Log:          logger,
	}, nil
}

// JUnitWriter builds the report sink configured by the global flags. The
// writer stays a silent no-op while test name or artifacts directory are
// unset, so callers need no guards.
func (c *Config) JUnitWriter() *junit.Writer {
	return junit.NewWriter(c.Log, c.TestName, c.ArtifactsDir, c.ClassName)
}

// DaemonConfig configures the standalone `cikit dockerd` daemon mode. It is
// read from a YAML file so deployments can keep it next to their other CI
// config.
type DaemonConfig struct {
	LogLevel string `yaml:"log_level"`

	Metrics MetricsConfig `yaml:"metrics"`
	Healthz HealthzConfig `yaml:"healthz"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
}

type HealthzConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
}

type HeartbeatConfig struct {
	Enabled bool          `yaml:"enabled"`
	Period  time.Duration `yaml:"period"`
	Timeout time.Duration `yaml:"timeout"`
}

type PushgatewayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Gateway  string `yaml:"gateway"`
	Job      string `yaml:"job"`
	Instance string `yaml:"instance"`
}

// NewDaemonConfig reads and parses the daemon mode config file.
func NewDaemonConfig(file string) (*DaemonConfig, error) {
	cfg := &DaemonConfig{}
	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultDaemonConfig is used when no config file is given: both servers
// on their default ports, no heartbeat, no pushgateway.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		LogLevel: "info",
		Metrics:  MetricsConfig{Enabled: true, Host: "0.0.0.0", Port: "7300"},
		Healthz:  HealthzConfig{Enabled: true, Host: "0.0.0.0", Port: "8080"},
	}
}

func (c *DaemonConfig) Validate() error {
	if c.Metrics.Enabled {
		if c.Metrics.Host == "" || c.Metrics.Port == "" {
			return errors.New("metrics is enabled but host or port are missing")
		}
	}
	if c.Healthz.Enabled {
		if c.Healthz.Host == "" || c.Healthz.Port == "" {
			return errors.New("healthz is enabled but host or port are missing")
		}
	}

	if c.Pushgateway.Enabled {
		if c.Pushgateway.Gateway == "" {
			return errors.New("pushgateway is enabled but the gateway URL is missing")
		}
		if c.Pushgateway.Job == "" {
			return errors.New("pushgateway is enabled but the job name is missing")
		}
	}

	if c.Heartbeat.Enabled && c.Heartbeat.Period < 0 {
		return errors.Errorf("heartbeat period must not be negative, got %s", c.Heartbeat.Period)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

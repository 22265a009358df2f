package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gateline/internal/domain"
)

// Config models gateline.yml.
type Config struct {
	Project struct {
		ID        string `yaml:"id" json:"id"`
		Workspace string `yaml:"workspace" json:"workspace"`
	} `yaml:"project" json:"project"`
	Runner struct {
		MaxParallelGates int   `yaml:"max_parallel_gates" json:"max_parallel_gates"`
		DefaultTimeoutMs int64 `yaml:"default_timeout_ms" json:"default_timeout_ms"`
	} `yaml:"runner" json:"runner"`
	Gates struct {
		Defaults map[string]GateDefault `yaml:"defaults" json:"defaults"`
	} `yaml:"gates" json:"gates"`
}

// GateDefault seeds a GateConfig row when a project is initialized.
type GateDefault struct {
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	Blocking   bool           `yaml:"blocking" json:"blocking"`
	TimeoutMs  *int64         `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Thresholds map[string]any `yaml:"thresholds" json:"thresholds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Workspace == "" {
		return fmt.Errorf("config.project.workspace is required")
	}
	if c.Runner.MaxParallelGates <= 0 {
		return fmt.Errorf("config.runner.max_parallel_gates must be positive")
	}
	if c.Runner.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("config.runner.default_timeout_ms must be positive")
	}
	for name, gd := range c.Gates.Defaults {
		if !domain.KnownGateType(domain.GateType(name)) {
			return fmt.Errorf("config.gates.defaults contains unknown gate type %s", name)
		}
		if gd.TimeoutMs != nil && *gd.TimeoutMs <= 0 {
			return fmt.Errorf("gate %s timeout_ms must be positive", name)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gateline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  workspace: default

runner:
  max_parallel_gates: 4
  default_timeout_ms: 30000

gates:
  defaults:
    lint:
      enabled: true
      blocking: true
      thresholds:
        fail_on_error: true
        fail_on_warning: false
        max_warnings: 25

    coverage:
      enabled: true
      blocking: true
      thresholds:
        min_percentage: 80

    security:
      enabled: true
      blocking: true
      thresholds:
        critical_only: true
        allow_dev_dependencies: true

    performance:
      enabled: false
      blocking: false
      timeout_ms: 60000
      thresholds:
        max_response_time_ms: 500
        min_throughput_rps: 50

    contract:
      enabled: false
      blocking: true
      thresholds:
        endpoints: {}

    complexity:
      enabled: true
      blocking: false
      thresholds:
        max_cyclomatic: 15
        max_cognitive: 20

    type_check:
      enabled: true
      blocking: true
      thresholds:
        strict_mode: false
`

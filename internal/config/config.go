package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models specline.yml. It is stored per project in the DB and
// importable from YAML, so two projects in one workspace can point at
// different collaborators or carry different category catalogs.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Categories struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"categories"`
	Classifier struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"classifier"`
	Generation struct {
		MaxAttempts int    `yaml:"max_attempts"`
		DefaultMode string `yaml:"default_mode"`
	} `yaml:"generation"`
	Collaborators struct {
		ClassifierURL  string `yaml:"classifier_url"`
		GeneratorURL   string `yaml:"generator_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"collaborators"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl project config import --file <path>", path)
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
	if c.Classifier.MaxAttempts < 0 {
		return fmt.Errorf("config.classifier.max_attempts must not be negative")
	}
	if c.Generation.MaxAttempts < 0 {
		return fmt.Errorf("config.generation.max_attempts must not be negative")
	}
	switch c.Generation.DefaultMode {
	case "", "draft", "detailed":
	default:
		return fmt.Errorf("config.generation.default_mode must be draft or detailed")
	}
	for name := range c.Categories.Catalog {
		if name == "" {
			return fmt.Errorf("config.categories.catalog contains empty category name")
		}
	}
	return nil
}

// ClassifierAttempts returns the configured classification attempt budget.
func (c *Config) ClassifierAttempts() int {
	if c.Classifier.MaxAttempts <= 0 {
		return 3
	}
	return c.Classifier.MaxAttempts
}

// GenerationAttempts returns the configured per-section generation attempt budget.
func (c *Config) GenerationAttempts() int {
	if c.Generation.MaxAttempts <= 0 {
		return 2
	}
	return c.Generation.MaxAttempts
}

// DefaultMode returns the document mode used when none is requested.
func (c *Config) DefaultMode() string {
	if c.Generation.DefaultMode == "" {
		return "draft"
	}
	return c.Generation.DefaultMode
}

// KnownCategory reports whether the category appears in the catalog. An empty
// catalog accepts any category.
func (c *Config) KnownCategory(name string) bool {
	if len(c.Categories.Catalog) == 0 {
		return true
	}
	_, ok := c.Categories.Catalog[name]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "specline.yml")
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
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID, projectID))).Decode(&cfg)
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
  name: %s

categories:
  catalog:
    goals:
      description: "Business and product goals"
    requirements:
      description: "Functional requirements"
    non_functional:
      description: "Performance, reliability, compliance constraints"
    scope_and_constraints:
      description: "Scope boundaries and technical constraints"
    personas:
      description: "Target users and personas"
    risks:
      description: "Risks and open questions"

classifier:
  max_attempts: 3

generation:
  max_attempts: 2
  default_mode: draft

collaborators:
  classifier_url: http://127.0.0.1:8601/v1/classify
  generator_url: http://127.0.0.1:8602/v1/generate
  timeout_seconds: 120
`

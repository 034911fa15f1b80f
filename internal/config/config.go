package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fairlance.yml.
type Config struct {
	Platform struct {
		ID       string `yaml:"id"`
		Currency string `yaml:"currency"`
	} `yaml:"platform"`
	Payments struct {
		Gateway string `yaml:"gateway"`
	} `yaml:"payments"`
	Auth struct {
		JWTSecret                string `yaml:"jwt_secret"`
		AllowInsecureActorHeader bool   `yaml:"allow_insecure_actor_header"`
	} `yaml:"auth"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return fmt.Errorf("config.platform.id is required")
	}
	if len(c.Platform.Currency) != 3 {
		return fmt.Errorf("config.platform.currency must be a 3-letter code")
	}
	switch c.Payments.Gateway {
	case "simulated":
	case "":
		return fmt.Errorf("config.payments.gateway is required")
	default:
		return fmt.Errorf("unknown payments gateway %s", c.Payments.Gateway)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fairlance.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(platformID string) string {
	return fmt.Sprintf(defaultTemplate, platformID)
}

// Default returns the default Config struct for a platform.
func Default(platformID string) *Config {
	var cfg Config
	cfg.Platform.ID = platformID
	cfg.Platform.Currency = "USD"
	cfg.Payments.Gateway = "simulated"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, platformID))).Decode(&cfg)
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

const defaultTemplate = `platform:
  id: %s
  currency: USD

payments:
  gateway: simulated

auth:
  jwt_secret: ""
  allow_insecure_actor_header: false

webhooks: []
`

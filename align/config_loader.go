package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks pairings and registration settings
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	needsBroker := false
	for i, p := range c.Pairings {
		if p.ID == "" {
			return fmt.Errorf("pairing[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("pairing[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true
		if p.Model == "" {
			return fmt.Errorf("pairing[%d].model is required for %s", i, p.ID)
		}
		if p.SampleCount < 0 {
			return fmt.Errorf("pairing[%d].sampleCount must be >= 0 for %s", i, p.ID)
		}
		if p.ScanTopic != "" {
			needsBroker = true
		}
	}
	if needsBroker && c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required when pairings use scanTopic")
	}

	if _, err := c.Registration.CoordinatorConfig(); err != nil {
		return fmt.Errorf("invalid registration config: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

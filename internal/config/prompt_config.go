package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptConfig overrides the built-in clinical prompt preamble and guidelines.
type PromptConfig struct {
	Preamble   string   `yaml:"preamble"`
	Guidelines []string `yaml:"guidelines"`
}

// LoadPromptConfig reads prompt overrides from a YAML file.
// An empty path yields a nil config and no error.
func LoadPromptConfig(path string) (*PromptConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadPromptConfig: %w", err)
	}
	// #nosec G304 -- operator supplied configuration path
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadPromptConfig: %w", err)
	}
	var pc PromptConfig
	if err := yaml.Unmarshal(content, &pc); err != nil {
		return nil, fmt.Errorf("op=config.LoadPromptConfig: parse yaml: %w", err)
	}
	pc.Preamble = strings.TrimSpace(pc.Preamble)
	guidelines := make([]string, 0, len(pc.Guidelines))
	for _, g := range pc.Guidelines {
		if g = strings.TrimSpace(g); g != "" {
			guidelines = append(guidelines, g)
		}
	}
	pc.Guidelines = guidelines
	return &pc, nil
}

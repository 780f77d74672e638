package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// WindowEntry describes a single job page to open when the browser is launched.
type WindowEntry struct {
	URL string `yaml:"url"`
}

// WindowsConfig is the top-level YAML configuration for startup windows.
type WindowsConfig struct {
	Windows []WindowEntry `yaml:"windows"`
}

// LoadWindows reads and validates a windows YAML config file.
// Returns an os.ErrNotExist-wrapped error if the file is absent (caller
// silently skips in that case).
func LoadWindows(path string) (*WindowsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("windows config: %w", err)
	}
	var cfg WindowsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("windows config: %w", err)
	}
	if len(cfg.Windows) < 1 {
		return nil, fmt.Errorf("windows config: at least one window entry is required")
	}
	for i, w := range cfg.Windows {
		if w.URL == "" {
			return nil, fmt.Errorf("windows config: windows[%d] missing url", i)
		}
		if u, err := url.Parse(w.URL); err != nil || u.Scheme == "" {
			return nil, fmt.Errorf("windows config: windows[%d] invalid url %q", i, w.URL)
		}
	}
	return &cfg, nil
}

// URLs returns the configured window URLs in file order.
func (c *WindowsConfig) URLs() []string {
	out := make([]string, 0, len(c.Windows))
	for _, w := range c.Windows {
		out = append(out, w.URL)
	}
	return out
}

package config

import (
	"fmt"
)

// Loader resolves the effective configuration from an optional YAML file
// and command-line overrides.
type Loader struct {
	// Path is the YAML file; empty uses the defaults.
	Path string
	// Root overrides the output root when non-empty.
	Root string
	// WorkDir overrides the collaborator working directory when non-empty.
	WorkDir string
}

// Load returns the validated configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.Path != "" {
		loaded, err := Load(l.Path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if l.Root != "" {
		cfg.Root = l.Root
	}
	if l.WorkDir != "" {
		cfg.WorkDir = l.WorkDir
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

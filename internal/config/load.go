package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/cuemby/rpxy/internal/perr"
)

// Load reads and validates the TOML configuration at path, rejecting
// unknown keys and the non-canonical "app" top-level key (spec §9's
// apps-vs-app Open Question; this implementation picks "apps").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.New(perr.KindConfig, fmt.Errorf("reading %s: %w", path, err))
	}
	return Parse(data)
}

// Parse decodes and validates raw TOML bytes. Exported separately from
// Load so tests and SIGHUP reload can supply in-memory config.
func Parse(data []byte) (*Config, error) {
	var probe map[string]any
	if err := toml.Unmarshal(data, &probe); err != nil {
		return nil, perr.New(perr.KindConfig, fmt.Errorf("parsing toml: %w", err))
	}
	if _, ok := probe["app"]; ok {
		return nil, perr.New(perr.KindConfig, fmt.Errorf(`top-level key "app" is not supported; use "apps"`))
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, perr.New(perr.KindConfig, fmt.Errorf("parsing toml: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

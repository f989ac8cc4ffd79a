package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"unified-portfolio-go/internal/models"

	"gopkg.in/yaml.v2"
)

// ProviderOverride replaces connection settings for one provider
type ProviderOverride struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ProvidersFile is the optional YAML document named by PROVIDERS_FILE
type ProvidersFile struct {
	MirrorTTL string                      `yaml:"mirror_ttl"`
	Providers map[string]ProviderOverride `yaml:"providers"`
}

// LoadProvidersFile reads and validates a providers YAML file. Relative paths
// resolve against the working directory.
func LoadProvidersFile(path string) (*ProvidersFile, error) {
	fullPath := path
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		fullPath = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var file ProvidersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	for name := range file.Providers {
		if _, err := models.ParseProvider(name); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return &file, nil
}

// Apply merges the overrides into cfg. Empty fields leave cfg untouched.
func (f *ProvidersFile) Apply(cfg *models.Config) error {
	if f.MirrorTTL != "" {
		ttl, err := time.ParseDuration(f.MirrorTTL)
		if err != nil {
			return fmt.Errorf("invalid mirror_ttl %q: %w", f.MirrorTTL, err)
		}
		cfg.Cache.MirrorTTL = ttl
	}

	for name, o := range f.Providers {
		p, err := models.ParseProvider(name)
		if err != nil {
			return err
		}

		var timeout time.Duration
		if o.Timeout != "" {
			if timeout, err = time.ParseDuration(o.Timeout); err != nil {
				return fmt.Errorf("invalid timeout for %s: %q (%w)", name, o.Timeout, err)
			}
		}

		switch p {
		case models.ProviderBanking:
			if o.BaseURL != "" {
				cfg.Banking.BaseURL = o.BaseURL
			}
			if timeout > 0 {
				cfg.Banking.Timeout = timeout
			}
		case models.ProviderBrokerage:
			if o.BaseURL != "" {
				cfg.Brokerage.BaseURL = o.BaseURL
			}
			if timeout > 0 {
				cfg.Brokerage.Timeout = timeout
			}
		case models.ProviderWallet:
			// The Prime SDK owns its endpoint; only the timeout is configurable.
			if timeout > 0 {
				cfg.Prime.Timeout = timeout
			}
		}
	}
	return nil
}

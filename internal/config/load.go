package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg.
// ${VAR} references are expanded from the environment before parsing.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Resolve builds the final configuration: defaults, then the YAML file
// (if path is non-empty), then any flag the user set explicitly.
// cfg must be the struct the flags in fs are bound to.
func Resolve(fs *pflag.FlagSet, cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if err := LoadFile(path, cfg); err != nil {
		return err
	}

	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("reapply flag --%s: %w", name, err)
		}
	}
	return nil
}

// Credential returns the elevated-access credential from the configured
// environment variable, falling back to the credential file.
// An empty credential is not an error: sudo may be configured NOPASSWD.
func (c *Config) Credential() (string, error) {
	if c.CredentialEnv != "" {
		if v, ok := os.LookupEnv(c.CredentialEnv); ok {
			return v, nil
		}
	}
	if c.CredentialFile != "" {
		data, err := os.ReadFile(c.CredentialFile)
		if err != nil {
			return "", fmt.Errorf("read credential file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return "", nil
}

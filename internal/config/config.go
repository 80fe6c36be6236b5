package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the sibload configuration file.
type Config struct {
	Store struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Region    string `yaml:"region"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"store"`
	// Environments extends the built-in prod/dev table with named targets.
	Environments map[string]struct {
		Project string `yaml:"project"`
		Bucket  string `yaml:"bucket"`
		Key     string `yaml:"key"`
	} `yaml:"environments"`
	Defaults struct {
		Project        string `yaml:"project"`
		Dest           string `yaml:"dest"`
		Retries        int    `yaml:"retries"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"defaults"`
	SSH struct {
		KeyDir     string `yaml:"key_dir"`
		KnownHosts string `yaml:"known_hosts"`
		User       string `yaml:"user"`
		Port       int    `yaml:"port"`
	} `yaml:"ssh"`
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/sibload/config.yaml or ~/.config/sibload/config.yaml.
// A missing default config file is not an error; credentials can still come
// from the environment or secrets.env.
func Load(path string) (Config, error) {
	var cfg Config
	explicit := path != ""
	if path == "" {
		path = filepath.Join(configDir(), "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg.applySecrets()
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applySecrets()
	return cfg, nil
}

// applySecrets merges credentials from secrets.env and the process
// environment so keys stay out of the YAML file. Environment wins.
func (c *Config) applySecrets() {
	secrets, _ := LoadSecretsEnv("")
	for _, k := range []string{"SIBLOAD_STORE_ACCESS_KEY", "SIBLOAD_STORE_SECRET_KEY", "SIBLOAD_STORE_ENDPOINT"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if v, ok := secrets["SIBLOAD_STORE_ACCESS_KEY"]; ok && v != "" {
		c.Store.AccessKey = v
	}
	if v, ok := secrets["SIBLOAD_STORE_SECRET_KEY"]; ok && v != "" {
		c.Store.SecretKey = v
	}
	if v, ok := secrets["SIBLOAD_STORE_ENDPOINT"]; ok && v != "" {
		c.Store.Endpoint = v
	}
}

// ValidateStore checks that the store section is usable for a fetch.
func (c Config) ValidateStore() error {
	if strings.TrimSpace(c.Store.Endpoint) == "" {
		return errors.New("store endpoint is required")
	}
	if strings.Contains(c.Store.Endpoint, "://") {
		return fmt.Errorf("store endpoint must not include scheme: %q", c.Store.Endpoint)
	}
	if strings.TrimSpace(c.Store.AccessKey) == "" {
		return errors.New("store access key is required")
	}
	if strings.TrimSpace(c.Store.SecretKey) == "" {
		return errors.New("store secret key is required")
	}
	return nil
}

func configDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sibload")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `store:
  endpoint: localhost:9000
  access_key: ak
  secret_key: sk
  region: us-east-1
environments:
  staging:
    bucket: xai-cfg
    key: siblings-staging.json
defaults:
  project: proj-1
  dest: siblings.json
  retries: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Endpoint != "localhost:9000" {
		t.Errorf("Expected endpoint localhost:9000, got %s", cfg.Store.Endpoint)
	}
	if cfg.Defaults.Project != "proj-1" {
		t.Errorf("Expected project proj-1, got %s", cfg.Defaults.Project)
	}
	env, ok := cfg.Environments["staging"]
	if !ok {
		t.Fatal("Expected staging environment")
	}
	if env.Key != "siblings-staging.json" {
		t.Errorf("Expected siblings-staging.json, got %s", env.Key)
	}
	if err := cfg.ValidateStore(); err != nil {
		t.Errorf("ValidateStore failed: %v", err)
	}
}

func TestLoadMissingDefaultIsNotFatal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with missing default config failed: %v", err)
	}
	if cfg.Store.Endpoint != "" {
		t.Errorf("Expected empty endpoint, got %s", cfg.Store.Endpoint)
	}
}

func TestLoadMissingExplicitIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing explicit config path")
	}
}

func TestEnvOverridesCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("SIBLOAD_STORE_ACCESS_KEY", "env-ak")
	t.Setenv("SIBLOAD_STORE_SECRET_KEY", "env-sk")

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `store:
  endpoint: localhost:9000
  access_key: file-ak
  secret_key: file-sk
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.AccessKey != "env-ak" {
		t.Errorf("Expected env access key to win, got %s", cfg.Store.AccessKey)
	}
	if cfg.Store.SecretKey != "env-sk" {
		t.Errorf("Expected env secret key to win, got %s", cfg.Store.SecretKey)
	}
}

func TestValidateStore(t *testing.T) {
	var cfg Config
	if err := cfg.ValidateStore(); err == nil {
		t.Error("Expected error for empty store config")
	}
	cfg.Store.Endpoint = "https://localhost:9000"
	cfg.Store.AccessKey = "ak"
	cfg.Store.SecretKey = "sk"
	if err := cfg.ValidateStore(); err == nil {
		t.Error("Expected error for endpoint with scheme")
	}
}

func TestLoadSecretsEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secrets.env")
	content := "# comment\nSIBLOAD_STORE_ACCESS_KEY=ak\n\nSIBLOAD_STORE_SECRET_KEY = sk\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write secrets file: %v", err)
	}
	secrets, err := LoadSecretsEnv(path)
	if err != nil {
		t.Fatalf("LoadSecretsEnv failed: %v", err)
	}
	if secrets["SIBLOAD_STORE_ACCESS_KEY"] != "ak" {
		t.Errorf("Expected ak, got %s", secrets["SIBLOAD_STORE_ACCESS_KEY"])
	}
	if secrets["SIBLOAD_STORE_SECRET_KEY"] != "sk" {
		t.Errorf("Expected sk, got %s", secrets["SIBLOAD_STORE_SECRET_KEY"])
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want %d", cfg.Server.MaxBodySize, int64(DefaultMaxBodySize))
	}
	if cfg.IPFS.APIURL != "http://127.0.0.1:5001" {
		t.Errorf("APIURL = %q", cfg.IPFS.APIURL)
	}
	if cfg.Multipart.ExpirySeconds != DefaultMultipartExpiry {
		t.Errorf("ExpirySeconds = %d, want %d", cfg.Multipart.ExpirySeconds, DefaultMultipartExpiry)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fula.yaml")
	content := `
server:
  host: 127.0.0.1
  port: 8080
ipfs:
  api_url: http://kubo:5001
registry:
  pointer_path: /var/lib/fula/registry.cid
auth:
  bearer_secret: hunter2
multipart:
  expiry_seconds: 3600
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8080 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.IPFS.APIURL != "http://kubo:5001" {
		t.Errorf("APIURL = %q", cfg.IPFS.APIURL)
	}
	if cfg.Registry.PointerPath != "/var/lib/fula/registry.cid" {
		t.Errorf("PointerPath = %q", cfg.Registry.PointerPath)
	}
	if cfg.Auth.BearerSecret != "hunter2" {
		t.Errorf("BearerSecret = %q", cfg.Auth.BearerSecret)
	}
	if cfg.Multipart.ExpirySeconds != 3600 {
		t.Errorf("ExpirySeconds = %d", cfg.Multipart.ExpirySeconds)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	// Unset fields still get defaults.
	if cfg.Server.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want default", cfg.Server.MaxBodySize)
	}
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fula.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
	if cfg.IPFS.APIURL != "http://127.0.0.1:5001" {
		t.Errorf("APIURL = %q, want default", cfg.IPFS.APIURL)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FULA_HOST", "10.0.0.5")
	t.Setenv("FULA_PORT", "7000")
	t.Setenv("IPFS_API_URL", "http://env-kubo:5001")
	t.Setenv("BEARER_SECRET", "env-secret")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.IPFS.APIURL != "http://env-kubo:5001" {
		t.Errorf("APIURL = %q", cfg.IPFS.APIURL)
	}
	if cfg.Auth.BearerSecret != "env-secret" {
		t.Errorf("BearerSecret = %q", cfg.Auth.BearerSecret)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fula.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FULA_PORT", "4321")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 4321 {
		t.Errorf("Port = %d, want env override 4321", cfg.Server.Port)
	}
}

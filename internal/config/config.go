// Package config handles loading and parsing of gateway configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultMaxBodySize caps request bodies at 5 GiB, the S3 single-PUT limit.
const DefaultMaxBodySize = 5 * 1024 * 1024 * 1024

// DefaultMultipartExpiry is how long an uncompleted multipart upload lives,
// in seconds.
const DefaultMultipartExpiry = 86400

// Config is the top-level configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	IPFS      IPFSConfig      `yaml:"ipfs"`
	Registry  RegistryConfig  `yaml:"registry"`
	Auth      AuthConfig      `yaml:"auth"`
	Multipart MultipartConfig `yaml:"multipart"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxBodySize is the request body limit in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`
}

// IPFSConfig holds Kubo RPC API settings.
type IPFSConfig struct {
	// APIURL is the base URL of the Kubo RPC API.
	APIURL string `yaml:"api_url"`
}

// RegistryConfig holds bucket registry persistence settings.
type RegistryConfig struct {
	// PointerPath is the file holding the current registry root CID.
	PointerPath string `yaml:"pointer_path"`
}

// AuthConfig holds bearer authentication settings.
type AuthConfig struct {
	// BearerSecret is the shared secret clients present. Empty disables
	// pairing; the gateway then accepts all requests under the local
	// namespace.
	BearerSecret string `yaml:"bearer_secret"`
	// OwnerID is the hashed owner namespace. Usually derived from the
	// box properties file rather than set here.
	OwnerID string `yaml:"owner_id"`
	// BoxPropsPath is the device properties file carrying the pairing
	// secret and owner token.
	BoxPropsPath string `yaml:"box_props_path"`
}

// MultipartConfig holds multipart upload settings.
type MultipartConfig struct {
	// ExpirySeconds is how long uncompleted uploads survive before the
	// sweeper drops them.
	ExpirySeconds int `yaml:"expiry_seconds"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied. A missing file is not an error: the
// defaults stand, so the gateway runs with no config file at all.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        9000,
			MaxBodySize: DefaultMaxBodySize,
		},
		IPFS: IPFSConfig{
			APIURL: "http://127.0.0.1:5001",
		},
		Registry: RegistryConfig{
			PointerPath: "./data/registry.cid",
		},
		Auth: AuthConfig{
			BoxPropsPath: "./data/box_props.json",
		},
		Multipart: MultipartConfig{
			ExpirySeconds: DefaultMultipartExpiry,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.IPFS.APIURL == "" {
		cfg.IPFS.APIURL = "http://127.0.0.1:5001"
	}
	if cfg.Registry.PointerPath == "" {
		cfg.Registry.PointerPath = "./data/registry.cid"
	}
	if cfg.Auth.BoxPropsPath == "" {
		cfg.Auth.BoxPropsPath = "./data/box_props.json"
	}
	if cfg.Multipart.ExpirySeconds == 0 {
		cfg.Multipart.ExpirySeconds = DefaultMultipartExpiry
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// applyEnv overlays environment variables onto cfg. Env vars beat the config
// file; command-line flags, applied later in main, beat both.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FULA_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FULA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MAX_BODY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxBodySize = n
		}
	}
	if v := os.Getenv("IPFS_API_URL"); v != "" {
		cfg.IPFS.APIURL = v
	}
	if v := os.Getenv("REGISTRY_CID_PATH"); v != "" {
		cfg.Registry.PointerPath = v
	}
	if v := os.Getenv("BOX_PROPS_FILE"); v != "" {
		cfg.Auth.BoxPropsPath = v
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		cfg.Auth.OwnerID = v
	}
	if v := os.Getenv("BEARER_SECRET"); v != "" {
		cfg.Auth.BearerSecret = v
	}
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		cfg.Logging.Level = "debug"
	}
}

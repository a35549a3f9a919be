package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int    `yaml:"port"`
	DBPath           string `yaml:"db_path"`
	ReadTimeout      int    `yaml:"read_timeout"`  // seconds
	WriteTimeout     int    `yaml:"write_timeout"` // seconds
	MaxConns         int    `yaml:"max_conns"`     // 0 = unbounded
	CredentialScheme string `yaml:"credential_scheme"`
}

func defaults() *Config {
	return &Config{
		Port:             5000,
		DBPath:           "users.db",
		ReadTimeout:      600,
		WriteTimeout:     30,
		MaxConns:         200,
		CredentialScheme: "plain",
	}
}

// Load builds the configuration from defaults and PRIVCHAT_* environment
// variables.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML config file over the defaults, expanding ${VAR}
// environment references in the file body. Environment variables still
// override file values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if portStr := os.Getenv("PRIVCHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("PRIVCHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("PRIVCHAT_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("PRIVCHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if maxStr := os.Getenv("PRIVCHAT_MAX_CONNS"); maxStr != "" {
		if max, err := strconv.Atoi(maxStr); err == nil {
			cfg.MaxConns = max
		}
	}

	if scheme := os.Getenv("PRIVCHAT_CREDENTIAL_SCHEME"); scheme != "" {
		cfg.CredentialScheme = scheme
	}
}

// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Storage struct {
		BaseURL string `yaml:"base_url"`
		Bucket  string `yaml:"bucket"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"storage"`

	Push struct {
		Endpoint string `yaml:"endpoint"`
		AppID    string `yaml:"app_id"`
		APIKey   string `yaml:"api_key"`
		AppURL   string `yaml:"app_url"`
	} `yaml:"push"`

	Send struct {
		UploadTimeoutSeconds int `yaml:"upload_timeout_seconds"`
		UploadWorkers        int `yaml:"upload_workers"`
	} `yaml:"send"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// Secrets may be referenced as ${ENV_VAR} in the yaml.
	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Send.UploadTimeoutSeconds <= 0 {
		cfg.Send.UploadTimeoutSeconds = 30
	}
	if cfg.Send.UploadWorkers <= 0 {
		cfg.Send.UploadWorkers = 4
	}
	return cfg, nil
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30m" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Chat struct {
		MaxHistory      int      `yaml:"max_history"`
		IdleTTL         Duration `yaml:"idle_ttl"`
		GCInterval      Duration `yaml:"gc_interval"`
		TickInterval    Duration `yaml:"tick_interval"`
		MaxMessageBytes int64    `yaml:"max_message_bytes"`
	} `yaml:"chat"`

	Archive struct {
		Driver    string `yaml:"driver"` // postgres, redis or none
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"archive"`

	Bridge struct {
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"bridge"`

	UserDirectory struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"user_directory"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Chat.MaxHistory = 500
	cfg.Chat.IdleTTL = Duration(30 * time.Minute)
	cfg.Chat.GCInterval = Duration(time.Minute)
	cfg.Chat.TickInterval = Duration(time.Second)
	cfg.Chat.MaxMessageBytes = 4096
	cfg.Archive.Driver = "none"
	cfg.Archive.QueueSize = 1024
	cfg.Bridge.StreamName = "CHAT_EVENTS"
	cfg.Bridge.SubjectPrefix = "chat.rooms"
	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides for values that differ per deployment.
	cfg.Archive.Driver = getEnv("ARCHIVE_DRIVER", cfg.Archive.Driver)
	cfg.Archive.QueueSize = getEnvAsInt("ARCHIVE_QUEUE_SIZE", cfg.Archive.QueueSize)
	cfg.UserDirectory.BaseURL = getEnv("USER_DIRECTORY_URL", cfg.UserDirectory.BaseURL)

	return cfg, nil
}

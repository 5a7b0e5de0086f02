package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct; the hub and terminal binaries read their own
// sections from the same file.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Terminal TerminalConfig `yaml:"terminal"`
}

type HubConfig struct {
	Port      int             `yaml:"port"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	PullLimit int             `yaml:"pull_limit"`
}

type TerminalConfig struct {
	ID              string `yaml:"id"`
	IDFile          string `yaml:"id_file"`
	DBPath          string `yaml:"db_path"`
	HubURL          string `yaml:"hub_url"`
	OutletID        int64  `yaml:"outlet_id"`
	SyncIntervalSec int    `yaml:"sync_interval_sec"`
	BackoffCapSec   int    `yaml:"backoff_cap_sec"`
	BatchLimit      int    `yaml:"batch_limit"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Hub.Postgres.DSN = cfg.Hub.Postgres.DSN + " password=" + pw
	}
	if id := os.Getenv("TERMINAL_ID"); id != "" {
		cfg.Terminal.ID = id
	}
	return &cfg, nil
}

// Package config loads process configuration the way cmd/agent's main.go
// does: godotenv.Load() first (ignored if no .env file is present), then
// plain os.Getenv reads with inline defaults, gathered here into one
// struct instead of loose local variables so every other package takes
// a typed Config rather than reaching into the environment itself.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is every process-wide setting (spec §6's enumerated names plus
// the ambient settings this expansion adds).
type Config struct {
	// Spec-visible business configuration.
	JWTSecret     string `yaml:"jwt_secret"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	ServerPrefix  string `yaml:"server_prefix"`

	// Ambient process configuration.
	ListenAddr  string        `yaml:"listen_addr"`
	RedisAddr   string        `yaml:"redis_addr"`
	LogLevel    string        `yaml:"log_level"`
	VADPoolSize int           `yaml:"vad_pool_size"`
	ReaperEvery time.Duration `yaml:"reaper_interval"`
}

func defaults() Config {
	return Config{
		ServerPrefix: "",
		ListenAddr:   ":8080",
		RedisAddr:    "localhost:6379",
		LogLevel:     "info",
		VADPoolSize:  4,
		ReaperEvery:  30 * time.Second,
	}
}

// Load builds a Config from, in increasing precedence: built-in
// defaults, an optional YAML file at yamlPath (skipped silently if
// empty or absent, since most deployments configure purely by
// environment), a .env file in the working directory (loaded the same
// way cmd/agent's main.go does — a missing file is not an error), and
// finally process environment variables.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: reading %s: %w", yamlPath, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using system environment variables")
	}

	cfg.JWTSecret = orEnv(cfg.JWTSecret, "JWT_secret")
	cfg.OpenAIAPIKey = orEnv(cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	cfg.ServerPrefix = orEnv(cfg.ServerPrefix, "SERVER_PREFIX")
	cfg.ListenAddr = orEnv(cfg.ListenAddr, "LISTEN_ADDR")
	cfg.RedisAddr = orEnv(cfg.RedisAddr, "REDIS_ADDR")
	cfg.LogLevel = orEnv(cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("VAD_POOL_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.VADPoolSize = n
		}
	}

	return cfg, cfg.Validate()
}

// orEnv returns the environment variable named key if set, else current.
func orEnv(current, key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return current
}

// Validate checks that the settings spec.md §6 requires be present at
// startup actually are.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_secret is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY, RATE_LIMIT_REQUESTS_PER_WINDOW.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; env vars plus defaults are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "opinionsim")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-3.5-turbo")
	viper.SetDefault("openai.temperature", 0.7)
	viper.SetDefault("openai.max_tokens", 1200)
	viper.SetDefault("openai.timeout", 30000)
	viper.SetDefault("openai.max_retries", 2)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.ttl_seconds", 3600)
	viper.SetDefault("cache.max_entries", 1024)
	viper.SetDefault("rate_limit.requests_per_window", 30)
	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func loadEnvFile() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

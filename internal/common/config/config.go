package config

import "time"

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type OpenAIConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"`     // milliseconds
	MaxRetries  int     `mapstructure:"max_retries"` // retries after the first attempt
}

func (o OpenAIConfig) RequestTimeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.Timeout) * time.Millisecond
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend    string      `mapstructure:"backend"`
	TTLSeconds int         `mapstructure:"ttl_seconds"`
	MaxEntries int         `mapstructure:"max_entries"`
	Redis      RedisConfig `mapstructure:"redis"`
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	// RequestsPerWindow is the fixed-window budget per client. Zero disables
	// the limiter.
	RequestsPerWindow int `mapstructure:"requests_per_window"`
	WindowSeconds     int `mapstructure:"window_seconds"`
}

func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

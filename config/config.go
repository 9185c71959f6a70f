package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // file | redis
	Path    string `mapstructure:"path"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StubConfig struct {
	Port        int           `mapstructure:"port"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
}

type Config struct {
	API   APIConfig   `mapstructure:"api"`
	Store StoreConfig `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`
	Log   LogConfig   `mapstructure:"log"`
	Stub  StubConfig  `mapstructure:"stub"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("api.base_url", "http://localhost:8000")
	viper.SetDefault("api.timeout", 15*time.Second)
	viper.SetDefault("store.backend", "file")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("stub.port", 8000)
	viper.SetDefault("stub.token_expiry", 24*time.Hour)
	viper.SetDefault("stub.rate_limit", 100.0)
	viper.SetDefault("stub.rate_burst", 200)
	viper.SetDefault("redis.prefix", "clinic-portal")

	viper.SetEnvPrefix("PORTAL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file falls back to defaults and env; any other read
		// failure is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

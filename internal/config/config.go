package config

import (
	"log"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Provider struct {
	BaseURL   string `mapstructure:"base-url"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Polling struct {
	IntervalMs        int     `mapstructure:"interval-ms"`
	MaxAttempts       int     `mapstructure:"max-attempts"`
	BackoffMultiplier float64 `mapstructure:"backoff-multiplier"`
	MaxBackoffMs      int     `mapstructure:"max-backoff-ms"`
	CleanupMaxAgeHrs  int     `mapstructure:"cleanup-max-age-hours"`
}

type Callback struct {
	SyncPollAttempts int `mapstructure:"sync-poll-attempts"`
	SyncPollDelayMs  int `mapstructure:"sync-poll-delay-ms"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Provider Provider `mapstructure:"provider"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Polling  Polling  `mapstructure:"polling"`
	Callback Callback `mapstructure:"callback"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

func GetRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return value
}

func GetInt(key string, fallback int) int {
	valueStr := os.Getenv(key)
	value, err := strconv.Atoi(valueStr)
	if err != nil || valueStr == "" {
		return fallback
	}
	return value
}

package config

import (
	"os"

	postgres_wrapper "github.com/viktarcynam/zensch/pkg/infra/postgres"
	redis_wrapper "github.com/viktarcynam/zensch/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type TrackerConfig struct {
	PollIntervalMs           int `yaml:"poll_interval_ms"`
	BackgroundPollIntervalMs int `yaml:"background_poll_interval_ms"`
	GatewayTimeoutMs         int `yaml:"gateway_timeout_ms"`
	LineageWindowTicks       int `yaml:"lineage_window_ticks"`
	ShutdownGraceMs          int `yaml:"shutdown_grace_ms"`
}

type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	AccountID string `yaml:"account_id"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisNotifyConfig struct {
	Channel string `yaml:"channel"`
}

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	Tracker     *TrackerConfig                   `yaml:"tracker"`
	Alpaca      *AlpacaConfig                    `yaml:"alpaca"`
	HistoryDB   *postgres_wrapper.PostgresConfig `yaml:"history_db"`
	Redis       *redis_wrapper.RedisConfig       `yaml:"redis"`
	RedisNotify *RedisNotifyConfig               `yaml:"redis_notify"`
	Nats        *NatsConfig                      `yaml:"nats"`
	Kafka       *KafkaConfig                     `yaml:"kafka"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

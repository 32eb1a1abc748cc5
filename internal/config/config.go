package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Gateway  GatewayConfig
	Trigger  TriggerConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WorkerConfig struct {
	Interval         time.Duration
	RateLimitPerHour int
}

type GatewayConfig struct {
	BaseURL       string
	StatusTimeout time.Duration
	SendTimeout   time.Duration
}

type TriggerConfig struct {
	TemplatesPath string
}

type LogConfig struct {
	Format string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	gatewayURL, err := requireEnv("GATEWAY_URL")
	if err != nil {
		errs = append(errs, err)
	}

	intervalSec, err := getEnvInt("POLL_INTERVAL_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}
	rateLimit, err := getEnvInt("RATE_LIMIT_PER_HOUR", 30)
	if err != nil {
		errs = append(errs, err)
	}
	statusTimeoutSec, err := getEnvInt("STATUS_TIMEOUT_SECONDS", 5)
	if err != nil {
		errs = append(errs, err)
	}
	sendTimeoutSec, err := getEnvInt("SEND_TIMEOUT_SECONDS", 45)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Gateway: GatewayConfig{
			BaseURL:       gatewayURL,
			StatusTimeout: time.Duration(statusTimeoutSec) * time.Second,
			SendTimeout:   time.Duration(sendTimeoutSec) * time.Second,
		},
		Worker: WorkerConfig{
			Interval:         time.Duration(intervalSec) * time.Second,
			RateLimitPerHour: rateLimit,
		},
		Trigger: TriggerConfig{
			TemplatesPath: os.Getenv("TEMPLATES_PATH"),
		},
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: redisCfg,
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSec, err := getEnvInt("REDIS_TTL_SECONDS", 30)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSec) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Worker.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Worker.RateLimitPerHour <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_HOUR must be > 0"))
	}
	if cfg.Gateway.StatusTimeout <= 0 {
		errs = append(errs, errors.New("STATUS_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Gateway.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}

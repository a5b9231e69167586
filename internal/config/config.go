package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string            `yaml:"service_name"`
	HTTP        HTTPConfig        `yaml:"http"`
	GRPC        GRPCConfig        `yaml:"grpc"`
	Storage     StorageConfig     `yaml:"storage"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Log         LogConfig         `yaml:"log"`
	Stock       StockConfig       `yaml:"stock"`
	Retry       RetryConfig       `yaml:"retry"`
	Reservation ReservationConfig `yaml:"reservation"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the backend family: memory, mysql or sqlite.
// Reservations go to Redis whenever redis.addr is set.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type StockConfig struct {
	DefaultMinimumLevel int `yaml:"default_minimum_level"`
	DefaultMaximumLevel int `yaml:"default_maximum_level"`
	AutoCreateMaximum   int `yaml:"auto_create_maximum"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type ReservationConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

func Default() Config {
	return Config{
		ServiceName: "inventory-service",
		HTTP:        HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		GRPC:        GRPCConfig{Addr: ":50051"},
		Storage:     StorageConfig{Driver: "memory"},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/inventory?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite:  SQLiteConfig{Path: "inventory.db"},
		Redis:   RedisConfig{PoolSize: 100},
		Kafka:   KafkaConfig{Topic: "inventory.mutation-events"},
		Tracing: TracingConfig{JaegerEndpoint: "http://localhost:14268/api/traces"},
		Log:     LogConfig{Level: "info"},
		Stock: StockConfig{
			DefaultMinimumLevel: 10,
			DefaultMaximumLevel: 500,
			AutoCreateMaximum:   1000,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     time.Second,
		},
		Reservation: ReservationConfig{
			SweepInterval: time.Minute,
			LockTTL:       30 * time.Second,
		},
	}
}

// Load reads defaults, then the YAML file at path (if any), then .env and
// the process environment. Later sources win.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql", "sqlite":
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Stock.DefaultMinimumLevel < 0 || c.Stock.DefaultMaximumLevel < c.Stock.DefaultMinimumLevel {
		return errors.New("stock levels must satisfy 0 <= minimum <= maximum")
	}
	if c.Reservation.SweepInterval <= 0 {
		return errors.New("reservation.sweep_interval must be positive")
	}
	return nil
}

func applyEnv(c *Config) error {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getEnv("GRPC_ADDR", c.GRPC.Addr)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.MySQL.DSN = getEnv("MYSQL_DSN", c.MySQL.DSN)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	var err error
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Retry.MaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if c.Tracing.Enabled, err = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled); err != nil {
		return err
	}
	if c.Log.Console, err = getEnvBool("LOG_CONSOLE", c.Log.Console); err != nil {
		return err
	}
	if c.Reservation.SweepInterval, err = getEnvDuration("RESERVATION_SWEEP_INTERVAL", c.Reservation.SweepInterval); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	return n, errors.Wrapf(err, "parse %s", key)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	return b, errors.Wrapf(err, "parse %s", key)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	return d, errors.Wrapf(err, "parse %s", key)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

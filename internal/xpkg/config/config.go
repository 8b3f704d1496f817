package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DB         *Postgres   `yaml:"database"`
	RMQ        *RabbitMQ   `yaml:"rabbitmq"`
	Redis      *Redis      `yaml:"redis"`
	Kafka      *Kafka      `yaml:"kafka"`
	Engine     *Engine     `yaml:"engine"`
	Effects    *Effects    `yaml:"effects"`
	Escalation *Escalation `yaml:"escalation"`
	Seed       *Seed       `yaml:"seed"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int32  `yaml:"max_conns"`
}

func (p *Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

type RabbitMQ struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	VHost    string `yaml:"vhost"`
}

func (r *RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s", r.User, r.Password, r.Host, r.Port, strings.TrimPrefix(r.VHost, "/"))
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Engine tunes the status transition engine.
type Engine struct {
	LockWait time.Duration `yaml:"lock_wait"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Effects tunes the side-effect dispatcher and its retry queue.
type Effects struct {
	CommissionPercent float64       `yaml:"commission_percent"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Workers           int           `yaml:"workers"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
	LeaseTTL          time.Duration `yaml:"lease_ttl"`
}

// Escalation tunes the late-order monitor. Channel and status overrides win over Threshold.
type Escalation struct {
	Interval          time.Duration            `yaml:"interval"`
	Threshold         time.Duration            `yaml:"threshold"`
	ChannelThresholds map[string]time.Duration `yaml:"channel_thresholds"`
	StatusThresholds  map[string]time.Duration `yaml:"status_thresholds"`
}

// Seed holds back-office data (tables, tracked stock) loaded at startup.
type Seed struct {
	Tables    []SeedTable `yaml:"tables"`
	Inventory []SeedStock `yaml:"inventory"`
}

type SeedTable struct {
	ID       string `yaml:"id"`
	StoreID  string `yaml:"store_id"`
	Label    string `yaml:"label"`
	Capacity int    `yaml:"capacity"`
}

type SeedStock struct {
	StoreID   string `yaml:"store_id"`
	ProductID string `yaml:"product_id"`
	Quantity  int    `yaml:"quantity"`
}

// Default returns a config usable for local development.
func Default() *Config {
	return &Config{
		DB: &Postgres{
			Host: "localhost", Port: "5432", User: "restaurant", Password: "restaurant", Database: "restaurant", MaxConns: 20,
		},
		RMQ: &RabbitMQ{
			User: "guest", Password: "guest", Host: "localhost", Port: "5672", VHost: "/",
		},
		Redis: &Redis{Addr: "localhost:6379"},
		Kafka: &Kafka{Brokers: []string{"localhost:9092"}, Topic: "order-events"},
		Engine: &Engine{
			LockWait: 2 * time.Second,
			LockTTL:  15 * time.Second,
		},
		Effects: &Effects{
			CommissionPercent: 10,
			MaxAttempts:       5,
			RetryDelay:        5 * time.Second,
			Workers:           8,
			IdempotencyTTL:    24 * time.Hour,
			LeaseTTL:          5 * time.Minute,
		},
		Escalation: &Escalation{
			Interval:  60 * time.Second,
			Threshold: 30 * time.Minute,
		},
		Seed: &Seed{},
	}
}

// LoadConfig reads the yaml file over the defaults, then applies .env and environment overrides.
// A missing file is not an error: defaults and environment are enough to run.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DB.Host, "POSTGRES_HOST")
	setString(&cfg.DB.Port, "POSTGRES_PORT")
	setString(&cfg.DB.User, "POSTGRES_USER")
	setString(&cfg.DB.Password, "POSTGRES_PASSWORD")
	setString(&cfg.DB.Database, "POSTGRES_DBNAME")

	setString(&cfg.RMQ.Host, "RABBITMQ_HOST")
	setString(&cfg.RMQ.Port, "RABBITMQ_PORT")
	setString(&cfg.RMQ.User, "RABBITMQ_USER")
	setString(&cfg.RMQ.Password, "RABBITMQ_PASSWORD")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}

	if v := os.Getenv("COMMISSION_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Effects.CommissionPercent = f
		}
	}
	if v := os.Getenv("LATE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Escalation.Threshold = d
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.Engine.LockWait <= 0 {
		return fmt.Errorf("engine.lock_wait must be positive: %s", c.Engine.LockWait)
	}
	if c.Engine.LockTTL < c.Engine.LockWait {
		return fmt.Errorf("engine.lock_ttl (%s) must not be shorter than lock_wait (%s)", c.Engine.LockTTL, c.Engine.LockWait)
	}
	if c.Effects.CommissionPercent < 0 || c.Effects.CommissionPercent > 100 {
		return fmt.Errorf("effects.commission_percent must be in [0, 100]: %v", c.Effects.CommissionPercent)
	}
	if c.Effects.MaxAttempts <= 0 {
		return fmt.Errorf("effects.max_attempts must be positive: %d", c.Effects.MaxAttempts)
	}
	if c.Effects.Workers <= 0 {
		return fmt.Errorf("effects.workers must be positive: %d", c.Effects.Workers)
	}
	if c.Escalation.Interval <= 0 || c.Escalation.Threshold <= 0 {
		return fmt.Errorf("escalation interval and threshold must be positive")
	}
	for _, st := range c.Seed.Inventory {
		if st.Quantity < 0 {
			return fmt.Errorf("seed stock for %s/%s is negative: %d", st.StoreID, st.ProductID, st.Quantity)
		}
	}
	return nil
}

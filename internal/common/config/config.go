package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type DB struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"password"`
	Name     string `mapstructure:"database"`
	MaxConns int    `mapstructure:"max_conns"`
}

type MQ struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type Redis struct {
	Addr      string        `mapstructure:"addr"`
	MirrorTTL time.Duration `mapstructure:"mirror_ttl"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type HTTP struct {
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Floor holds the state-machine policies of the table and order engines.
type Floor struct {
	TaxRate                float64       `mapstructure:"tax_rate"`
	PaymentPolicy          string        `mapstructure:"payment_policy"` // delivered | relaxed
	ClearAssignmentOnDirty bool          `mapstructure:"clear_assignment_on_dirty"`
	StoreTimeout           time.Duration `mapstructure:"store_timeout"`
}

type Kitchen struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	WarningAfter  time.Duration `mapstructure:"warning_after"`
	CriticalAfter time.Duration `mapstructure:"critical_after"`
}

type Menu struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

type App struct {
	Database DB      `mapstructure:"database"`
	Rabbit   MQ      `mapstructure:"rabbitmq"`
	Redis    Redis   `mapstructure:"redis"`
	Kafka    Kafka   `mapstructure:"kafka"`
	HTTP     HTTP    `mapstructure:"http"`
	Auth     Auth    `mapstructure:"auth"`
	Floor    Floor   `mapstructure:"floor"`
	Kitchen  Kitchen `mapstructure:"kitchen"`
	Menu     Menu    `mapstructure:"menu"`
}

const (
	PaymentPolicyDelivered = "delivered"
	PaymentPolicyRelaxed   = "relaxed"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "restaurant")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("rabbitmq.host", "")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "floor_status_fanout")
	v.SetDefault("rabbitmq.queue", "floor_status.q")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.mirror_ttl", 24*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "order-events")

	v.SetDefault("http.port", 3000)
	v.SetDefault("http.rate_limit", 20)
	v.SetDefault("http.burst", 40)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("floor.tax_rate", 0.10)
	v.SetDefault("floor.payment_policy", PaymentPolicyDelivered)
	v.SetDefault("floor.clear_assignment_on_dirty", true)
	v.SetDefault("floor.store_timeout", 3*time.Second)

	v.SetDefault("kitchen.tick_interval", time.Second)
	v.SetDefault("kitchen.warning_after", 10*time.Minute)
	v.SetDefault("kitchen.critical_after", 15*time.Minute)

	v.SetDefault("menu.refresh_interval", time.Hour)
	v.SetDefault("menu.retry_backoff", 30*time.Second)
}

// Load reads .env (if present), then the YAML file at path, then FLOOR_* environment overrides.
// An empty path falls back to FindConfig; no file at all means defaults plus environment.
func Load(path string) (App, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if p, err := FindConfig(); err == nil {
			path = p
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return App{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var a App
	if err := v.Unmarshal(&a); err != nil {
		return App{}, fmt.Errorf("decode config: %w", err)
	}
	if err := a.Validate(); err != nil {
		return App{}, err
	}
	return a, nil
}

func (a App) Validate() error {
	if a.Floor.TaxRate < 0 || a.Floor.TaxRate >= 1 {
		return fmt.Errorf("invalid config: floor.tax_rate %v out of range [0,1)", a.Floor.TaxRate)
	}
	switch a.Floor.PaymentPolicy {
	case PaymentPolicyDelivered, PaymentPolicyRelaxed:
	default:
		return fmt.Errorf("invalid config: floor.payment_policy %q", a.Floor.PaymentPolicy)
	}
	if a.Floor.StoreTimeout <= 0 {
		return errors.New("invalid config: floor.store_timeout must be positive")
	}
	if a.Kitchen.TickInterval <= 0 {
		return errors.New("invalid config: kitchen.tick_interval must be positive")
	}
	if a.Kitchen.WarningAfter <= 0 || a.Kitchen.CriticalAfter <= a.Kitchen.WarningAfter {
		return errors.New("invalid config: kitchen thresholds must satisfy 0 < warning_after < critical_after")
	}
	if a.Menu.RefreshInterval <= 0 {
		return errors.New("invalid config: menu.refresh_interval must be positive")
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "config.yml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"password"`
	Name     string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	// Serializable switches admission transactions from row locks under
	// read committed to full serializable isolation.
	Serializable bool `mapstructure:"serializable"`
	Migrate      bool `mapstructure:"migrate"`
}

func (d DB) DSN() string {
	mode := d.SSLMode
	if mode == "" {
		mode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Pass, d.Host, d.Port, d.Name, mode)
}

type MQ struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// CatalogChannel carries recipe cache invalidations between processes.
	CatalogChannel string        `mapstructure:"catalog_channel"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type HTTP struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type Auth struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type Engine struct {
	AdmitTimeout    time.Duration `mapstructure:"admit_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ReminderDelay   time.Duration `mapstructure:"reminder_delay"`
	ExternalTimeout time.Duration `mapstructure:"external_timeout"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
}

type Scheduler struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Batch        int           `mapstructure:"batch"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type App struct {
	Database  DB        `mapstructure:"database"`
	Rabbit    MQ        `mapstructure:"rabbitmq"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	HTTP      HTTP      `mapstructure:"http"`
	Auth      Auth      `mapstructure:"auth"`
	Engine    Engine    `mapstructure:"engine"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Log       Log       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.migrate", true)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "cafe_events")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.catalog_channel", "catalog:invalidate")
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)
	v.SetDefault("kafka.topic", "menu-index")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit", 20)
	v.SetDefault("auth.issuer", "cafe-system")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 30*24*time.Hour)
	v.SetDefault("engine.admit_timeout", 10*time.Second)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_backoff", 25*time.Millisecond)
	v.SetDefault("engine.reminder_delay", 120*time.Second)
	v.SetDefault("engine.external_timeout", 5*time.Second)
	v.SetDefault("engine.heartbeat", 30*time.Second)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("scheduler.batch", 50)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.backoff", 2*time.Second)
	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path (may be empty) and applies CAFE_*
// environment overrides, e.g. CAFE_DATABASE_HOST.
func Load(path string) (App, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

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

// AutomaticEnv only sees keys viper already knows, so keys without a
// default are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"database.host", "database.user", "database.password", "database.database", "database.serializable",
		"rabbitmq.host", "rabbitmq.user", "rabbitmq.password",
		"redis.password", "redis.db",
		"kafka.brokers",
		"auth.secret",
	} {
		_ = v.BindEnv(k)
	}
}

func (a App) Validate() error {
	var errs []error
	if a.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if a.Rabbit.Host == "" {
		errs = append(errs, errors.New("rabbitmq.host is required"))
	}
	if len(a.Auth.Secret) < 16 {
		errs = append(errs, errors.New("auth.secret must be at least 16 bytes"))
	}
	if a.Engine.MaxRetries < 0 {
		errs = append(errs, errors.New("engine.max_retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

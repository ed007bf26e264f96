package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Auth       AuthConfig       `yaml:"auth"`
	Invoice    InvoiceConfig    `yaml:"invoice"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type InvoiceConfig struct {
	TTL Duration `yaml:"ttl"`
}

// DispatcherConfig drives the change-feed consumer: batch sizing, the
// publish retry policy and how long dispatched rows are kept around.
type DispatcherConfig struct {
	Sync          bool        `yaml:"sync"`
	BatchSize     int         `yaml:"batch_size"`
	PollInterval  Duration    `yaml:"poll_interval"`
	FeedRetention Duration    `yaml:"feed_retention"`
	DedupTTL      Duration    `yaml:"dedup_ttl"`
	Retry         RetryConfig `yaml:"retry"`
	CacheSize     int         `yaml:"cache_size"`
}

type RetryConfig struct {
	Attempts     int      `yaml:"attempts"`
	Base         Duration `yaml:"base"`
	Max          Duration `yaml:"max"`
	JitterFactor float64  `yaml:"jitter_factor"`
}

// Duration accepts "1s" style yaml values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std converts back to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads yaml file. A .env file, when present, is merged into the
// environment first so secrets stay out of the yaml.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dispatcher.BatchSize <= 0 {
		c.Dispatcher.BatchSize = 100
	}
	if c.Dispatcher.PollInterval <= 0 {
		c.Dispatcher.PollInterval = Duration(time.Second)
	}
	if c.Dispatcher.FeedRetention <= 0 {
		c.Dispatcher.FeedRetention = Duration(24 * time.Hour)
	}
	if c.Dispatcher.DedupTTL <= 0 {
		c.Dispatcher.DedupTTL = Duration(time.Hour)
	}
	if c.Dispatcher.CacheSize <= 0 {
		c.Dispatcher.CacheSize = 1000
	}
	if c.Dispatcher.Retry.Attempts <= 0 {
		c.Dispatcher.Retry.Attempts = 3
	}
	if c.Dispatcher.Retry.Base <= 0 {
		c.Dispatcher.Retry.Base = Duration(100 * time.Millisecond)
	}
	if c.Invoice.TTL <= 0 {
		c.Invoice.TTL = Duration(time.Hour)
	}
}

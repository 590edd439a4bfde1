package config

import (
	"time"

	gconfig "github.com/Laisky/go-config/v2"
)

// Config is the immutable snapshot of all service settings.
//
// It is built once at startup from the loaded settings file and passed by
// reference into every constructor that needs it. No package reads the
// shared settings store after startup.
type Config struct {
	Listen string
	Debug  bool
	Secret string

	Mongo     MongoConfig
	Artifacts ArtifactsConfig
	Provider  ProviderConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
}

// MongoConfig mongodb connection settings.
type MongoConfig struct {
	Addr   string
	DBName string
	User   string
	Pwd    string
	AuthDB string
}

// ArtifactsConfig object-store settings for generated images.
type ArtifactsConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	PublicURL string
	UseSSL    bool
}

// ProviderConfig settings for the image generation provider.
type ProviderConfig struct {
	APIBase    string
	APIKey     string
	Model      string
	I2IModel   string
	MaxRetries int
	Timeout    time.Duration
}

// WorkerConfig settings for the generation dispatcher.
type WorkerConfig struct {
	Workers    int
	QueueDepth int
}

// RateLimitConfig per-account generation request throttle.
type RateLimitConfig struct {
	NPerSec int
	Burst   int
}

// Snapshot builds a Config from the shared settings store.
func Snapshot() *Config {
	cfg := &Config{
		Listen: gconfig.Shared.GetString("listen"),
		Debug:  gconfig.Shared.GetBool("debug"),
		Secret: gconfig.Shared.GetString("settings.secret"),
		Mongo: MongoConfig{
			Addr:   gconfig.Shared.GetString("settings.db.addr"),
			DBName: gconfig.Shared.GetString("settings.db.db"),
			User:   gconfig.Shared.GetString("settings.db.user"),
			Pwd:    gconfig.Shared.GetString("settings.db.pwd"),
			AuthDB: gconfig.Shared.GetString("settings.db.auth_db"),
		},
		Artifacts: ArtifactsConfig{
			Endpoint:  gconfig.Shared.GetString("settings.artifacts.endpoint"),
			AccessKey: gconfig.Shared.GetString("settings.artifacts.access_key"),
			SecretKey: gconfig.Shared.GetString("settings.artifacts.secret_key"),
			Bucket:    gconfig.Shared.GetString("settings.artifacts.bucket"),
			Prefix:    gconfig.Shared.GetString("settings.artifacts.prefix"),
			PublicURL: gconfig.Shared.GetString("settings.artifacts.public_url"),
			UseSSL:    gconfig.Shared.GetBool("settings.artifacts.use_ssl"),
		},
		Provider: ProviderConfig{
			APIBase:    gconfig.Shared.GetString("settings.provider.api_base"),
			APIKey:     gconfig.Shared.GetString("settings.provider.api_key"),
			Model:      gconfig.Shared.GetString("settings.provider.model"),
			I2IModel:   gconfig.Shared.GetString("settings.provider.i2i_model"),
			MaxRetries: gconfig.Shared.GetInt("settings.provider.max_retries"),
			Timeout:    gconfig.Shared.GetDuration("settings.provider.timeout"),
		},
		Worker: WorkerConfig{
			Workers:    gconfig.Shared.GetInt("settings.worker.workers"),
			QueueDepth: gconfig.Shared.GetInt("settings.worker.queue_depth"),
		},
		RateLimit: RateLimitConfig{
			NPerSec: gconfig.Shared.GetInt("settings.ratelimit.n_per_sec"),
			Burst:   gconfig.Shared.GetInt("settings.ratelimit.burst"),
		},
	}

	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Provider.MaxRetries <= 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 2 * time.Minute
	}
	if c.Worker.Workers <= 0 {
		c.Worker.Workers = 4
	}
	if c.Worker.QueueDepth <= 0 {
		c.Worker.QueueDepth = 64
	}
	if c.RateLimit.NPerSec <= 0 {
		c.RateLimit.NPerSec = 2
	}
	if c.RateLimit.Burst < c.RateLimit.NPerSec {
		c.RateLimit.Burst = c.RateLimit.NPerSec * 5
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CAPTIONHUB"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("upload.max_request_body", 12)
	v.SetDefault("upload.max_multipart_memory", 8)

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.mode", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database_id", 0)
	v.SetDefault("redis.health_check_interval", 30*time.Second)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 10*time.Second)
	v.SetDefault("redis.write_timeout", 5*time.Second)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.nodes", []map[string]any{{"host": "127.0.0.1", "port": 6379}})

	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.raw_bucket", "")
	v.SetDefault("storage.public_bucket", "")
	v.SetDefault("storage.public_base_url", "https://storage.googleapis.com")
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.retry_base_delay", 300*time.Millisecond)

	v.SetDefault("crypto.url", "")
	v.SetDefault("crypto.timeout", 3*time.Second)

	v.SetDefault("compress_worker.stream", "compression-jobs")
	v.SetDefault("compress_worker.group", "compression-sub")
	v.SetDefault("compress_worker.consumer", "compressor")
	v.SetDefault("compress_worker.workers", 4)
	v.SetDefault("compress_worker.max_deliveries", 10)
	v.SetDefault("compress_worker.max_len", 100000)
	v.SetDefault("compress_worker.block_timeout", 5*time.Second)
	v.SetDefault("compress_worker.reclaim_idle", 3*time.Minute)
	v.SetDefault("compress_worker.job_timeout", 2*time.Minute)
	v.SetDefault("compress_worker.dead_letter_stream", "")
	v.SetDefault("compress_worker.scratch_dir", "")
	v.SetDefault("compress_worker.quality", 40)
	v.SetDefault("compress_worker.max_width", 0)
	v.SetDefault("compress_worker.max_height", 0)
	v.SetDefault("compress_worker.completion_ttl", 24*time.Hour)
	v.SetDefault("compress_worker.metrics_port", 2112)

	v.SetDefault("reconcile.interval", 0)
	v.SetDefault("reconcile.stale_after", 30*time.Minute)
	v.SetDefault("reconcile.batch_size", 100)

	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "record.completed")

	v.SetDefault("cipher.port", 8081)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.sentry_dsn", "")
	v.SetDefault("sentry.environment", "development")
}

// bindLegacyEnv maps the variable names used by the existing deployment
// manifests onto config keys.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"database.dsn":          "DB_DSN",
		"storage.raw_bucket":    "RAW_BUCKET",
		"storage.public_bucket": "PUBLIC_BUCKET",
		"crypto.url":            "ENCODER_URL",
	}
	for key, env := range legacy {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration file (json, yaml or toml by extension) and
// applies CAPTIONHUB_* environment overrides, including those from a local
// .env file. A missing file is not an error.
func Load(file string) (*Config, error) {
	// A .env file in the working directory is optional; real env vars win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings every binary needs to talk to its collaborators.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	switch c.Storage.Driver {
	case "s3", "minio", "memory":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.RawBucket == "" || c.Storage.PublicBucket == "" {
		problems = append(problems, "storage.raw_bucket and storage.public_bucket are required")
	}
	if c.Worker.Stream == "" || c.Worker.Group == "" {
		problems = append(problems, "compress_worker.stream and compress_worker.group are required")
	}
	if c.Worker.Workers < 1 {
		problems = append(problems, "compress_worker.workers must be at least 1")
	}
	if c.Worker.JobTimeout <= 0 {
		problems = append(problems, "compress_worker.job_timeout must be positive")
	}
	// Without XAUTOCLAIM a deferred message is never redelivered, and a shorter
	// idle time hands a running job to a second consumer.
	if c.Worker.ReclaimIdle <= 0 || c.Worker.ReclaimIdle < c.Worker.JobTimeout {
		problems = append(problems, "compress_worker.reclaim_idle must be positive and at least compress_worker.job_timeout")
	}
	if c.Worker.Quality < 1 || c.Worker.Quality > 100 {
		problems = append(problems, "compress_worker.quality must be within 1..100")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

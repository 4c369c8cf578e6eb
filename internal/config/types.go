package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Database  Database        `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Worker    WorkerConfig    `mapstructure:"compress_worker"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Events    EventsConfig    `mapstructure:"events"`
	Cipher    CipherConfig    `mapstructure:"cipher"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UploadConfig struct {
	MaxRequestBodyMB     int64 `mapstructure:"max_request_body"`
	MaxMultipartMemoryMB int64 `mapstructure:"max_multipart_memory"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Mode                string        `mapstructure:"mode"` // "single", "cluster" or "" to try cluster first
	Password            string        `mapstructure:"password"`
	DatabaseID          int           `mapstructure:"database_id"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	PoolSize            int           `mapstructure:"pool_size"`
	Nodes               []RedisNode   `mapstructure:"nodes"`
}

type RedisNode struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type StorageConfig struct {
	Driver         string        `mapstructure:"driver"` // s3 | minio | memory
	Endpoint       string        `mapstructure:"endpoint"`
	Region         string        `mapstructure:"region"`
	AccessKeyID    string        `mapstructure:"access_key_id"`
	SecretKey      string        `mapstructure:"secret_key"`
	UseSSL         bool          `mapstructure:"use_ssl"`
	RawBucket      string        `mapstructure:"raw_bucket"`
	PublicBucket   string        `mapstructure:"public_bucket"`
	PublicBaseURL  string        `mapstructure:"public_base_url"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type CryptoConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Stream           string        `mapstructure:"stream"`             // redis stream name
	Group            string        `mapstructure:"group"`              // consumer group name
	Consumer         string        `mapstructure:"consumer"`           // consumer name prefix, suffixed per goroutine
	Workers          int           `mapstructure:"workers"`            // number of concurrent consumers
	MaxDeliveries    int64         `mapstructure:"max_deliveries"`     // deliveries before dead-lettering
	MaxLen           int64         `mapstructure:"max_len"`            // stream max length before trim
	BlockTimeout     time.Duration `mapstructure:"block_timeout"`      // XREADGROUP block timeout
	ReclaimIdle      time.Duration `mapstructure:"reclaim_idle"`       // pending idle time before redelivery
	JobTimeout       time.Duration `mapstructure:"job_timeout"`        // upper bound for one message
	DeadLetterStream string        `mapstructure:"dead_letter_stream"` // defaults to <stream>:dead
	ScratchDir       string        `mapstructure:"scratch_dir"`        // parent of per-attempt temp dirs
	Quality          int           `mapstructure:"quality"`            // JPEG quality of public objects
	MaxWidth         int           `mapstructure:"max_width"`
	MaxHeight        int           `mapstructure:"max_height"`
	CompletionTTL    time.Duration `mapstructure:"completion_ttl"`
	MetricsPort      int           `mapstructure:"metrics_port"`
}

func (w WorkerConfig) DeadLetter() string {
	if w.DeadLetterStream != "" {
		return w.DeadLetterStream
	}
	return w.Stream + ":dead"
}

type ReconcileConfig struct {
	Interval   time.Duration `mapstructure:"interval"` // 0 disables the sweep
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"` // empty disables publishing
	Topic   string   `mapstructure:"topic"`
}

type CipherConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type SentryConfig struct {
	SentryDSN   string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
}

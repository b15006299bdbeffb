package config

import (
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Notify      NotifyConfig      `yaml:"notify"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Log         LogConfig         `yaml:"log"`
	CORS        CORSConfig        `yaml:"cors"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StorageConfig selects the order store.
type StorageConfig struct {
	Backend    string `yaml:"backend"     env:"STORAGE_BACKEND" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"     env-default:"orders.db"`
}

// PostgresConfig holds PostgreSQL connection settings. Only read when the
// postgres backend is selected.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"10"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	AutoMigrate     bool          `yaml:"auto_migrate"       env:"DATABASE_AUTO_MIGRATE"       env-default:"true"`
}

// RedisConfig enables the distributed order lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"     env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"       env:"REDIS_DB"       env-default:"0"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"10s"`
}

// KafkaConfig enables Kafka notifications when Brokers is set.
type KafkaConfig struct {
	Brokers      string        `yaml:"brokers"       env:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic"         env:"KAFKA_TOPIC"         env-default:"customer-notifications"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
}

// BrokerList splits Brokers on commas.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NotifyConfig sizes the async notification dispatcher.
type NotifyConfig struct {
	Workers   int           `yaml:"workers"    env:"NOTIFY_WORKERS"    env-default:"2"`
	QueueSize int           `yaml:"queue_size" env:"NOTIFY_QUEUE_SIZE" env-default:"256"`
	Timeout   time.Duration `yaml:"timeout"    env:"NOTIFY_TIMEOUT"    env-default:"10s"`
}

// FulfillmentConfig holds the delivery rules.
type FulfillmentConfig struct {
	StrictOverDelivery bool          `yaml:"strict_over_delivery" env:"STRICT_OVER_DELIVERY" env-default:"true"`
	SaveAttempts       int           `yaml:"save_attempts"        env:"SAVE_ATTEMPTS"        env-default:"3"`
	Timezone           string        `yaml:"timezone"             env:"TIMEZONE"             env-default:"Asia/Taipei"`
	AuditRetryInterval time.Duration `yaml:"audit_retry_interval" env:"AUDIT_RETRY_INTERVAL" env-default:"30s"`
	AuditRetryAttempts int           `yaml:"audit_retry_attempts" env:"AUDIT_RETRY_ATTEMPTS" env-default:"10"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"http://localhost:5173,http://localhost:8080"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`
}

// Origins splits AllowedOrigins on commas.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

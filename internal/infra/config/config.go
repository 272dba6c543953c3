package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	GRPC       GRPCSettings       `mapstructure:"grpc"`
	Storage    StorageSettings    `mapstructure:"storage"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	Saga       SagaSettings       `mapstructure:"saga"`
	Validation ValidationSettings `mapstructure:"validation"`
	Scheduler  SchedulerSettings  `mapstructure:"scheduler"`
	Auth       AuthSettings       `mapstructure:"auth"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageSettings selects the persistence backend: "postgres" or "memory".
type StorageSettings struct {
	Driver string `mapstructure:"driver"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Enabled           bool   `mapstructure:"enabled"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	DB                int    `mapstructure:"db"`
	Password          string `mapstructure:"password"`
	TLSEnabled        bool   `mapstructure:"tls_enabled"`
	PoolSize          int    `mapstructure:"pool_size"`
	ConnectAttempts   uint   `mapstructure:"connect_attempts"`
	FingerprintPrefix string `mapstructure:"fingerprint_prefix"`
}

// KafkaSettings configures the producer and the consumer group
type KafkaSettings struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Async         bool     `mapstructure:"async"`
}

// SagaSettings configures command processing.
type SagaSettings struct {
	ConcurrencyMode string        `mapstructure:"concurrency_mode"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	FingerprintTTL  time.Duration `mapstructure:"fingerprint_ttl"`
	RelayInterval   time.Duration `mapstructure:"relay_interval"`
	RelayBatchSize  int           `mapstructure:"relay_batch_size"`
	RelayMinAge     time.Duration `mapstructure:"relay_min_age"`
	PublishLease    time.Duration `mapstructure:"publish_lease"`
}

// ValidationSettings lists the commands that wait for external validators.
type ValidationSettings struct {
	ExternalCommands []string `mapstructure:"external_commands"`
}

type SchedulerSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// AuthSettings configures how initiators are read from bearer tokens.
type AuthSettings struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Required  bool   `mapstructure:"required"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.cors_origins",
	"grpc.host",
	"grpc.port",
	"storage.driver",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.pool_size",
	"redis.connect_attempts",
	"redis.fingerprint_prefix",
	"kafka.enabled",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.consumer_group",
	"kafka.async",
	"saga.concurrency_mode",
	"saga.retry_attempts",
	"saga.retry_interval",
	"saga.fingerprint_ttl",
	"saga.relay_interval",
	"saga.relay_batch_size",
	"saga.relay_min_age",
	"saga.publish_lease",
	"validation.external_commands",
	"scheduler.enabled",
	"scheduler.interval",
	"auth.jwt_secret",
	"auth.issuer",
	"auth.required",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
}

// Load reads defaults, an optional config file named by PROFILES_CONFIG_FILE and the environment.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PROFILES")

	setDefaults(v)

	if path := os.Getenv("PROFILES_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q: want %s or %s", c.Storage.Driver, DriverPostgres, DriverMemory)
	}
	switch c.Saga.ConcurrencyMode {
	case "optimistic", "pessimistic":
	default:
		return fmt.Errorf("invalid saga.concurrency_mode %q", c.Saga.ConcurrencyMode)
	}
	if c.Saga.RetryAttempts < 1 {
		return fmt.Errorf("saga.retry_attempts must be positive, got %d", c.Saga.RetryAttempts)
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.required is set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// DSN renders the connection string for pgxpool.
func (s PostgresSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Database, s.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "profile-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "profiles")
	v.SetDefault("postgres.password", "profiles_password")
	v.SetDefault("postgres.database", "profiles")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.connect_attempts", 3)
	v.SetDefault("redis.fingerprint_prefix", "profiles:fingerprint")

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "profiles")
	v.SetDefault("kafka.consumer_group", "profile-service")
	v.SetDefault("kafka.async", true)

	// retry policy of the message transport: 5 attempts, 1s apart
	v.SetDefault("saga.concurrency_mode", "optimistic")
	v.SetDefault("saga.retry_attempts", 5)
	v.SetDefault("saga.retry_interval", "1s")
	v.SetDefault("saga.fingerprint_ttl", "168h")
	v.SetDefault("saga.relay_interval", "30s")
	v.SetDefault("saga.relay_batch_size", 100)
	v.SetDefault("saga.relay_min_age", "5s")
	v.SetDefault("saga.publish_lease", "1m")

	v.SetDefault("validation.external_commands", []string{})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1m")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.required", false)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "profile-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PROFILES_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

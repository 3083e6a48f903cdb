package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"academyjudge/internal/common/cache"
	"academyjudge/internal/common/db"
	commonmw "academyjudge/internal/common/http/middleware"
	"academyjudge/internal/common/mq"
	"academyjudge/internal/common/storage"
	"academyjudge/internal/grader/event"
	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/supervisor"
	"academyjudge/internal/grader/worker"
	"academyjudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr         = "0.0.0.0:5000"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 0
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultRateWindow       = time.Minute
	defaultRateIPMax        = 120
	defaultTestCaseTTL      = 30 * time.Minute
	defaultTestCaseEmptyTTL = time.Minute
	defaultArchiveBucket    = "academy-submissions"
	defaultMySQLPort        = 3306
	defaultPostgresPort     = 5432
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	CORSOrigins  []string      `yaml:"corsOrigins"`
}

// DatabaseConfig extends the pool config with schema bootstrap and DSN parts.
type DatabaseConfig struct {
	db.Config   `yaml:",inline"`
	AutoMigrate bool   `yaml:"autoMigrate"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
}

// KafkaConfig holds Kafka settings. Empty brokers disables messaging.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// SupervisorConfig holds execution limits.
type SupervisorConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
	WorkRoot       string        `yaml:"workRoot"`
}

// EvaluatorConfig holds test case evaluation settings.
type EvaluatorConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// CacheConfig holds test case cache TTLs.
type CacheConfig struct {
	TestCaseTTL      time.Duration `yaml:"testCaseTTL"`
	TestCaseEmptyTTL time.Duration `yaml:"testCaseEmptyTTL"`
}

// ArchiveConfig controls submission archiving.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

// EventsConfig holds grade event routing.
type EventsConfig struct {
	Topic string `yaml:"topic"`
}

// WorkerConfig controls the asynchronous grading consumer.
type WorkerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RequestTopic    string `yaml:"requestTopic"`
	ConsumerGroup   string `yaml:"consumerGroup"`
	PoolSize        int    `yaml:"poolSize"`
	MaxRetries      int    `yaml:"maxRetries"`
	DeadLetterTopic string `yaml:"deadLetterTopic"`
}

// AppConfig holds grader-service configuration.
type AppConfig struct {
	Server     ServerConfig             `yaml:"server"`
	Logger     logger.Config            `yaml:"logger"`
	Database   DatabaseConfig           `yaml:"database"`
	Redis      cache.RedisConfig        `yaml:"redis"`
	Kafka      KafkaConfig              `yaml:"kafka"`
	MinIO      storage.MinIOConfig      `yaml:"minio"`
	Supervisor SupervisorConfig         `yaml:"supervisor"`
	Evaluator  EvaluatorConfig          `yaml:"evaluator"`
	Languages  []language.LanguageSpec  `yaml:"languages"`
	RateLimit  commonmw.RateLimitPolicy `yaml:"rateLimit"`
	Cache      CacheConfig              `yaml:"cache"`
	Archive    ArchiveConfig            `yaml:"archive"`
	Events     EventsConfig             `yaml:"events"`
	Worker     WorkerConfig             `yaml:"worker"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path (optional when missing), overlays envFile and the process environment, then applies defaults.
func loadAppConfig(path, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	getenv, err := envLookup(envFile)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg, getenv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// envLookup prefers the process environment over values in envFile.
func envLookup(envFile string) (func(string) string, error) {
	fileEnv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file failed: %w", err)
		}
		if values != nil {
			fileEnv = values
		}
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	}, nil
}

func applyEnvOverrides(cfg *AppConfig, getenv func(string) string) error {
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q", port)
		}
		cfg.Server.Addr = "0.0.0.0:" + port
	}
	if v := strings.TrimSpace(getenv("DB_DIALECT")); v != "" {
		cfg.Database.Driver = v
	}
	if v := getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := strings.TrimSpace(getenv("DB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q", v)
		}
		cfg.Database.Port = port
	}
	if v := getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := getenv("DB_PASS"); v != "" {
		cfg.Database.Password = v
	}
	if v := strings.TrimSpace(getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(getenv("EXEC_TIMEOUT")); v != "" {
		timeout, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("invalid EXEC_TIMEOUT %q: %w", v, err)
		}
		cfg.Supervisor.Timeout = timeout
	}
	return nil
}

// parseTimeout accepts a Go duration or a plain number of milliseconds.
func parseTimeout(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	applyDatabaseDefaults(&cfg.Database)
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}

	if cfg.Supervisor.Timeout <= 0 {
		cfg.Supervisor.Timeout = supervisor.DefaultTimeout
	}
	if cfg.Supervisor.MaxOutputBytes <= 0 {
		cfg.Supervisor.MaxOutputBytes = supervisor.DefaultMaxOutputBytes
	}
	if cfg.Evaluator.Parallelism <= 0 {
		cfg.Evaluator.Parallelism = 1
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.RateLimit.IPMax == 0 {
		cfg.RateLimit.IPMax = defaultRateIPMax
	}
	if cfg.Cache.TestCaseTTL <= 0 {
		cfg.Cache.TestCaseTTL = defaultTestCaseTTL
	}
	if cfg.Cache.TestCaseEmptyTTL <= 0 {
		cfg.Cache.TestCaseEmptyTTL = defaultTestCaseEmptyTTL
	}

	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = defaultArchiveBucket
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = event.DefaultGradeCompletedTopic
	}
	if cfg.Worker.RequestTopic == "" {
		cfg.Worker.RequestTopic = worker.DefaultRequestTopic
	}
	if cfg.Worker.ConsumerGroup == "" {
		cfg.Worker.ConsumerGroup = "academy-grader"
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = cfg.Evaluator.Parallelism
	}
}

// applyDatabaseDefaults builds a DSN from host parts when none is configured.
func applyDatabaseDefaults(cfg *DatabaseConfig) {
	cfg.ApplyDefaults()
	if cfg.DSN != "" || cfg.Host == "" {
		return
	}
	port := cfg.Port
	if cfg.Driver == db.DriverPostgres {
		if port == 0 {
			port = defaultPostgresPort
		}
		cfg.DSN = db.PostgresDSN(cfg.Host, port, cfg.User, cfg.Password, cfg.Name)
		return
	}
	if port == 0 {
		port = defaultMySQLPort
	}
	cfg.DSN = db.MySQLDSN(cfg.Host, port, cfg.User, cfg.Password, cfg.Name)
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (s SupervisorConfig) toSupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Timeout:        s.Timeout,
		MaxOutputBytes: s.MaxOutputBytes,
		WorkRoot:       s.WorkRoot,
	}
}

func (w WorkerConfig) toWorkerOptions() worker.Options {
	return worker.Options{
		Topic:           w.RequestTopic,
		ConsumerGroup:   w.ConsumerGroup,
		PoolSize:        w.PoolSize,
		MaxRetries:      w.MaxRetries,
		DeadLetterTopic: w.DeadLetterTopic,
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the alarm-sink binaries.
type Config struct {
	// ServerAddress is the gRPC address of the alarm service.
	ServerAddress string `yaml:"server_addr"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum level written to the log (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format"`
	// MetricsAddress is where Prometheus metrics are served; empty disables it.
	MetricsAddress string `yaml:"metrics_addr"`
	// Workers is the number of event workers fed by the Kafka consumer.
	Workers int `yaml:"workers"`
	// Shards is the number of lock shards of the alarm store.
	Shards int `yaml:"shards"`
	// Storage configures the durable backing of the alarm store.
	Storage Storage `yaml:"storage"`
	// Kafka configures the optional inbound event stream.
	Kafka Kafka `yaml:"kafka"`
}

// Storage selects and configures the inventory backend.
type Storage struct {
	// Backend is one of memory, file, postgres, redis.
	Backend string `yaml:"backend"`
	// StateFile is the JSON inventory path of the file backend.
	StateFile string `yaml:"state_file"`
	// PostgresDSN is the connection string of the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
	// TablePrefix is prepended to the postgres table names.
	TablePrefix string `yaml:"table_prefix"`
	// RedisAddress is the host:port of the redis backend.
	RedisAddress string `yaml:"redis_addr"`
	// RedisKey is the hash holding the inventory.
	RedisKey string `yaml:"redis_key"`
}

// Kafka configures the event topic consumer. It is disabled when Brokers is empty.
type Kafka struct {
	// Brokers is a comma-separated list of host:port pairs.
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
	// LogLevel is the minimum level of the Kafka client's own log lines.
	LogLevel string `yaml:"log_level"`
}

// Enabled reports whether the consumer should run.
func (k *Kafka) Enabled() bool {
	return len(k.BrokerList()) > 0
}

// BrokerList splits Brokers, dropping blanks.
func (k *Kafka) BrokerList() []string {
	var brokers []string

	for broker := range strings.SplitSeq(k.Brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-sink-settings.yaml"

	// DefaultStateFilename is the default filename of the file backend.
	DefaultStateFilename = "alarm-sink-inventory.json"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultKafkaGroupID is the consumer group used when none is configured.
	DefaultKafkaGroupID = "alarm-sink"

	// DefaultKafkaLogLevel keeps the Kafka client's routine messages out of the log.
	DefaultKafkaLogLevel = "warn"

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errUnknownBackend is returned for an unsupported storage backend.
	errUnknownBackend = errors.New("unknown storage backend")
	// errBackendSetting is returned when the selected backend lacks its connection setting.
	errBackendSetting = errors.New("storage backend is not configured")
	// errKafkaTopicRequired is returned when brokers are set without a topic.
	errKafkaTopicRequired = errors.New("kafka topic must be provided")
	// errNegativeCount is returned for negative worker or shard counts.
	errNegativeCount = errors.New("workers and shards must not be negative")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold a DSN with credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults.
func Validate(settings *Config) error {
	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if settings.Workers < 0 || settings.Shards < 0 {
		return errNegativeCount
	}

	if settings.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	if err := validateStorage(&settings.Storage); err != nil {
		return err
	}

	if settings.Kafka.Enabled() {
		if settings.Kafka.Topic == "" {
			return errKafkaTopicRequired
		}

		if settings.Kafka.GroupID == "" {
			settings.Kafka.GroupID = DefaultKafkaGroupID
		}

		if settings.Kafka.LogLevel == "" {
			settings.Kafka.LogLevel = DefaultKafkaLogLevel
		}
	}

	return nil
}

func validateStorage(storage *Storage) error {
	if storage.Backend == "" {
		storage.Backend = BackendFile
	}

	switch storage.Backend {
	case BackendMemory:
	case BackendFile:
		if storage.StateFile == "" {
			storage.StateFile = DefaultStateFilename
		}
	case BackendPostgres:
		if storage.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn is required", errBackendSetting)
		}
	case BackendRedis:
		if storage.RedisAddress == "" {
			return fmt.Errorf("%w: redis_addr is required", errBackendSetting)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, storage.Backend)
	}

	return nil
}

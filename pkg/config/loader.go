package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "NODEKV")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	// Start with defaults
	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	// Read config file if provided
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)

	// Map legacy env names to the standard storage keys when needed.
	l.bindLegacyEnvVars()

	// Bind all environment variables explicitly for nested structs
	l.bindEnvVars(v)

	// Unmarshal into a new config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Storage
	v.BindEnv("storage.type", l.prefixedEnv("STORAGE_TYPE"))
	v.BindEnv("storage.url", l.prefixedEnv("STORAGE_URL"))
	v.BindEnv("storage.database_name", l.prefixedEnv("STORAGE_DATABASE_NAME"))
	v.BindEnv("storage.collection", l.prefixedEnv("STORAGE_COLLECTION"))
	v.BindEnv("storage.table", l.prefixedEnv("STORAGE_TABLE"))
	v.BindEnv("storage.key_prefix", l.prefixedEnv("STORAGE_KEY_PREFIX"))
	v.BindEnv("storage.username", l.prefixedEnv("STORAGE_USERNAME"))
	v.BindEnv("storage.password", l.prefixedEnv("STORAGE_PASSWORD"))
	v.BindEnv("storage.max_conns", l.prefixedEnv("STORAGE_MAX_CONNS"))
	v.BindEnv("storage.max_open_conns", l.prefixedEnv("STORAGE_MAX_OPEN_CONNS"))
	v.BindEnv("storage.max_idle_conns", l.prefixedEnv("STORAGE_MAX_IDLE_CONNS"))
	v.BindEnv("storage.conn_max_lifetime", l.prefixedEnv("STORAGE_CONN_MAX_LIFETIME"))
	v.BindEnv("storage.conn_max_idle_time", l.prefixedEnv("STORAGE_CONN_MAX_IDLE_TIME"))
	v.BindEnv("storage.connect_timeout", l.prefixedEnv("STORAGE_CONNECT_TIMEOUT"))
	v.BindEnv("storage.query_timeout", l.prefixedEnv("STORAGE_QUERY_TIMEOUT"))
	v.BindEnv("storage.operation_timeout", l.prefixedEnv("STORAGE_OPERATION_TIMEOUT"))
	v.BindEnv("storage.page_size", l.prefixedEnv("STORAGE_PAGE_SIZE"))
	v.BindEnv("storage.scan_count", l.prefixedEnv("STORAGE_SCAN_COUNT"))
	v.BindEnv("storage.region", l.prefixedEnv("STORAGE_REGION"))
	v.BindEnv("storage.endpoint", l.prefixedEnv("STORAGE_ENDPOINT"))
	v.BindEnv("storage.access_key_id", l.prefixedEnv("STORAGE_ACCESS_KEY_ID"))
	v.BindEnv("storage.secret_access_key", l.prefixedEnv("STORAGE_SECRET_ACCESS_KEY"))
	v.BindEnv("storage.session_token", l.prefixedEnv("STORAGE_SESSION_TOKEN"))
	v.BindEnv("storage.bucket", l.prefixedEnv("STORAGE_BUCKET"))
	v.BindEnv("storage.use_path_style", l.prefixedEnv("STORAGE_USE_PATH_STYLE"))
	v.BindEnv("storage.hosts", l.prefixedEnv("STORAGE_HOSTS"))
	v.BindEnv("storage.keyspace", l.prefixedEnv("STORAGE_KEYSPACE"))
	v.BindEnv("storage.consistency", l.prefixedEnv("STORAGE_CONSISTENCY"))
	v.BindEnv("storage.replication_clause", l.prefixedEnv("STORAGE_REPLICATION_CLAUSE"))
	v.BindEnv("storage.breaker_failures", l.prefixedEnv("STORAGE_BREAKER_FAILURES"))
	v.BindEnv("storage.breaker_cooldown", l.prefixedEnv("STORAGE_BREAKER_COOLDOWN"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"), l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"), l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.service_name", l.prefixedEnv("OBSERVABILITY_SERVICE_NAME"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("OBSERVABILITY_TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("OBSERVABILITY_TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("OBSERVABILITY_TRACING_ENDPOINT"))
	v.BindEnv("observability.async_logging.enabled", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_ENABLED"))
	v.BindEnv("observability.async_logging.queue_size", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_QUEUE_SIZE"))
	v.BindEnv("observability.async_logging.worker_count", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_WORKER_COUNT"))
	v.BindEnv("observability.async_logging.drop_when_full", l.prefixedEnv("OBSERVABILITY_ASYNC_LOGGING_DROP_WHEN_FULL"))
}

// bindLegacyEnvVars maps the short DB_* names onto the standard STORAGE_*
// keys so older deployments keep working.
func (l *ViperLoader) bindLegacyEnvVars() {
	aliases := []struct {
		standardSuffix string
		legacySuffix   string
	}{
		{"STORAGE_TYPE", "DB_TYPE"},
		{"STORAGE_URL", "DB_URL"},
		{"STORAGE_DATABASE_NAME", "DB_DATABASE_NAME"},
		{"STORAGE_TABLE", "DB_TABLE"},
		{"STORAGE_USERNAME", "DB_USERNAME"},
		{"STORAGE_PASSWORD", "DB_PASSWORD"},
		{"STORAGE_CONNECT_TIMEOUT", "DB_CONNECT_TIMEOUT"},
		{"STORAGE_QUERY_TIMEOUT", "DB_QUERY_TIMEOUT"},
		{"STORAGE_MAX_OPEN_CONNS", "DB_MAX_OPEN_CONNS"},
		{"STORAGE_MAX_IDLE_CONNS", "DB_MAX_IDLE_CONNS"},
		{"STORAGE_REGION", "DB_REGION"},
		{"STORAGE_ENDPOINT", "DB_ENDPOINT"},
		{"STORAGE_ACCESS_KEY_ID", "DB_ACCESS_KEY_ID"},
		{"STORAGE_SECRET_ACCESS_KEY", "DB_SECRET_ACCESS_KEY"},
		{"STORAGE_SESSION_TOKEN", "DB_SESSION_TOKEN"},
	}

	for _, alias := range aliases {
		standardEnv := l.prefixedEnv(alias.standardSuffix)
		if _, hasStandard := os.LookupEnv(standardEnv); hasStandard {
			continue
		}
		if legacyValue, hasLegacy := os.LookupEnv(l.prefixedEnv(alias.legacySuffix)); hasLegacy {
			_ = os.Setenv(standardEnv, legacyValue)
		}
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "NODEKV"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	// Service defaults
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	// Storage defaults
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.url", cfg.Storage.URL)
	v.SetDefault("storage.database_name", cfg.Storage.DatabaseName)
	v.SetDefault("storage.collection", cfg.Storage.Collection)
	v.SetDefault("storage.table", cfg.Storage.Table)
	v.SetDefault("storage.key_prefix", cfg.Storage.KeyPrefix)
	v.SetDefault("storage.username", cfg.Storage.Username)
	v.SetDefault("storage.password", cfg.Storage.Password)
	v.SetDefault("storage.max_conns", cfg.Storage.MaxConns)
	v.SetDefault("storage.max_open_conns", cfg.Storage.MaxOpenConns)
	v.SetDefault("storage.max_idle_conns", cfg.Storage.MaxIdleConns)
	v.SetDefault("storage.conn_max_lifetime", cfg.Storage.ConnMaxLifetime)
	v.SetDefault("storage.conn_max_idle_time", cfg.Storage.ConnMaxIdleTime)
	v.SetDefault("storage.connect_timeout", cfg.Storage.ConnectTimeout)
	v.SetDefault("storage.query_timeout", cfg.Storage.QueryTimeout)
	v.SetDefault("storage.operation_timeout", cfg.Storage.OperationTimeout)
	v.SetDefault("storage.page_size", cfg.Storage.PageSize)
	v.SetDefault("storage.scan_count", cfg.Storage.ScanCount)
	v.SetDefault("storage.region", cfg.Storage.Region)
	v.SetDefault("storage.endpoint", cfg.Storage.Endpoint)
	v.SetDefault("storage.access_key_id", cfg.Storage.AccessKeyID)
	v.SetDefault("storage.secret_access_key", cfg.Storage.SecretAccessKey)
	v.SetDefault("storage.session_token", cfg.Storage.SessionToken)
	v.SetDefault("storage.bucket", cfg.Storage.Bucket)
	v.SetDefault("storage.use_path_style", cfg.Storage.UsePathStyle)
	v.SetDefault("storage.hosts", cfg.Storage.Hosts)
	v.SetDefault("storage.keyspace", cfg.Storage.Keyspace)
	v.SetDefault("storage.consistency", cfg.Storage.Consistency)
	v.SetDefault("storage.replication_clause", cfg.Storage.ReplicationClause)
	v.SetDefault("storage.breaker_failures", cfg.Storage.BreakerFailures)
	v.SetDefault("storage.breaker_cooldown", cfg.Storage.BreakerCooldown)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
}

// Validate applies loader-level rules to a loaded configuration. The
// per-backend requirements live on Config.Validate so they also guard
// hand-built configs.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Storage.Hosts = normalizeStringSlice(cfg.Storage.Hosts)

	storageType := strings.ToLower(strings.TrimSpace(cfg.Storage.Type))
	if storageType != "" && !contains(SupportedStorageTypes, storageType) {
		return fmt.Errorf("invalid storage.type %q (supported: %s)", cfg.Storage.Type, strings.Join(SupportedStorageTypes, ", "))
	}

	if level := cfg.Observability.LogLevel; level != "" {
		if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(level)) {
			return fmt.Errorf("invalid observability.log_level %q (supported: debug, info, warn, error)", level)
		}
	}
	if format := cfg.Observability.LogFormat; format != "" {
		if !contains([]string{"json", "text"}, strings.ToLower(format)) {
			return fmt.Errorf("invalid observability.log_format %q (supported: json, text)", format)
		}
	}
	if rate := cfg.Observability.TracingSampleRate; rate < 0 || rate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", rate)
	}
	if cfg.Observability.AsyncLogging.QueueSize < 0 {
		return fmt.Errorf("observability.async_logging.queue_size cannot be negative")
	}
	if cfg.Observability.AsyncLogging.WorkerCount < 0 {
		return fmt.Errorf("observability.async_logging.worker_count cannot be negative")
	}

	if cfg.Storage.ConnectTimeout < 0 {
		return fmt.Errorf("storage.connect_timeout cannot be negative")
	}
	if cfg.Storage.QueryTimeout < 0 {
		return fmt.Errorf("storage.query_timeout cannot be negative")
	}
	if cfg.Storage.OperationTimeout < 0 {
		return fmt.Errorf("storage.operation_timeout cannot be negative")
	}
	if cfg.Storage.PageSize < 0 {
		return fmt.Errorf("storage.page_size cannot be negative")
	}
	if cfg.Storage.ScanCount < 0 {
		return fmt.Errorf("storage.scan_count cannot be negative")
	}
	if cfg.Storage.MaxOpenConns < 0 {
		return fmt.Errorf("storage.max_open_conns cannot be negative")
	}
	if cfg.Storage.MaxIdleConns < 0 {
		return fmt.Errorf("storage.max_idle_conns cannot be negative")
	}

	return cfg.Validate()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

package config

import "time"

// Storage type constants
const (
	// StorageTypeMemory represents the in-process memory store
	StorageTypeMemory = "memory"
	// StorageTypeRedis represents Redis
	StorageTypeRedis = "redis"
	// StorageTypeMongoDB represents MongoDB
	StorageTypeMongoDB = "mongodb"
	// StorageTypePostgres represents PostgreSQL
	StorageTypePostgres = "postgres"
	// StorageTypeMySQL represents MySQL
	StorageTypeMySQL = "mysql"
	// StorageTypeDynamoDB represents AWS DynamoDB
	StorageTypeDynamoDB = "dynamodb"
	// StorageTypeS3 represents AWS S3 object storage
	StorageTypeS3 = "s3"
	// StorageTypeCassandra represents Apache Cassandra
	StorageTypeCassandra = "cassandra"
	// StorageTypeNeo4j represents Neo4j
	StorageTypeNeo4j = "neo4j"
)

// SupportedStorageTypes lists every storage.type value the factory accepts.
var SupportedStorageTypes = []string{
	StorageTypeMemory,
	StorageTypeRedis,
	StorageTypeMongoDB,
	StorageTypePostgres,
	StorageTypeMySQL,
	StorageTypeDynamoDB,
	StorageTypeS3,
	StorageTypeCassandra,
	StorageTypeNeo4j,
}

// Config is the root configuration structure for the store
type Config struct {
	Service       ServiceConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig configures the storage backend. It is a flat union: each
// backend reads the subset of fields it understands and ignores the rest.
type StorageConfig struct {
	Type string `mapstructure:"type"` // memory, redis, mongodb, postgres, mysql, dynamodb, s3, cassandra, neo4j

	// Connection string backends (redis, mongodb, postgres, mysql, neo4j).
	URL          string `mapstructure:"url"`
	DatabaseName string `mapstructure:"database_name"`
	Collection   string `mapstructure:"collection"`
	Table        string `mapstructure:"table"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`

	// Connection pool tuning.
	MaxConns        int           `mapstructure:"max_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// Timeouts.
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// Cursor tuning.
	PageSize  int32 `mapstructure:"page_size"`
	ScanCount int64 `mapstructure:"scan_count"`

	// AWS backends (dynamodb, s3).
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Bucket          string `mapstructure:"bucket"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`

	// Cassandra.
	Hosts             []string `mapstructure:"hosts"`
	Keyspace          string   `mapstructure:"keyspace"`
	Consistency       string   `mapstructure:"consistency"`
	ReplicationClause string   `mapstructure:"replication_clause"`

	// Circuit breaker around the data path. Zero failures disables it.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// ObservabilityConfig configures logging and tracing
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level"`
	LogFormat         string             `mapstructure:"log_format"` // json, text
	ServiceName       string             `mapstructure:"service_name"`
	TracingEnabled    bool               `mapstructure:"tracing_enabled"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint"`
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// DefaultConfig returns the configuration used when neither file nor
// environment provides a value. The zero page size and key prefix are
// deliberate: each backend fills in its own.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "nodekv",
			Environment: "production",
		},
		Storage: StorageConfig{
			Type:             StorageTypeMemory,
			Table:            "node_records",
			Collection:       "records",
			Keyspace:         "nodekv",
			MaxConns:         10,
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  5 * time.Minute,
			ConnMaxIdleTime:  5 * time.Minute,
			ConnectTimeout:   10 * time.Second,
			QueryTimeout:     5 * time.Second,
			OperationTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "nodekv",
			TracingEnabled:    false,
			TracingSampleRate: 1.0,
		},
	}
}

// Package factory selects a storage binding from configuration. It
// lives outside pkg/storage because the bindings import the contract
// package and the factory imports the bindings.
package factory

import (
	"fmt"
	"strings"

	"github.com/nodekv/nodekv/pkg/config"
	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/resilience"
	"github.com/nodekv/nodekv/pkg/storage"
	"github.com/nodekv/nodekv/pkg/storage/cassandra"
	"github.com/nodekv/nodekv/pkg/storage/dynamodb"
	"github.com/nodekv/nodekv/pkg/storage/memory"
	"github.com/nodekv/nodekv/pkg/storage/mongodb"
	"github.com/nodekv/nodekv/pkg/storage/mysql"
	"github.com/nodekv/nodekv/pkg/storage/neo4j"
	"github.com/nodekv/nodekv/pkg/storage/postgres"
	"github.com/nodekv/nodekv/pkg/storage/redis"
	"github.com/nodekv/nodekv/pkg/storage/s3"
)

// Cosa fa: seleziona e inizializza lo storage adapter in base alla config.
// Cosa NON fa: non gestisce fallback tra backend diversi.
// Esempio minimo: adp, err := factory.NewStorageAdapter(cfg.Storage, log)
//
// The returned adapter is already instrumented; every operation feeds
// the storage metrics under the normalized backend label. When
// storage.breaker_failures is set, a circuit breaker guards the data
// path outside the instrumentation, so rejected calls never skew the
// backend's latency metrics.
func NewStorageAdapter(cfg config.StorageConfig, log logger.Logger) (storage.Adapter, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Type))
	adapter, err := newBackendAdapter(backend, cfg, log)
	if err != nil {
		return nil, err
	}
	wrapped := Instrument(backend, adapter)
	if cfg.BreakerFailures > 0 {
		wrapped = WithBreaker(wrapped, resilience.NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown))
	}
	return wrapped, nil
}

func newBackendAdapter(backend string, cfg config.StorageConfig, log logger.Logger) (storage.Adapter, error) {
	switch backend {
	case "memory":
		return memory.NewMemoryAdapter(log), nil
	case "redis":
		return redis.NewRedisAdapter(redis.Config{
			URL:              cfg.URL,
			KeyPrefix:        cfg.KeyPrefix,
			MaxConns:         cfg.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
			ScanCount:        cfg.ScanCount,
		}, log)
	case "mongodb":
		return mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			Collection:       cfg.Collection,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	case "postgres":
		return postgres.NewPostgreSQLAdapter(postgres.Config{
			URL:             cfg.URL,
			Table:           cfg.Table,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
	case "mysql":
		return mysql.NewMySQLAdapter(mysql.Config{
			URL:             cfg.URL,
			Table:           cfg.Table,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
	case "dynamodb":
		return dynamodb.NewAdapter(dynamodb.Config{
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			Table:            cfg.Table,
			PageSize:         cfg.PageSize,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	case "s3":
		return s3.NewAdapter(s3.Config{
			Bucket:           cfg.Bucket,
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			UsePathStyle:     cfg.UsePathStyle,
			KeyPrefix:        cfg.KeyPrefix,
			PageSize:         cfg.PageSize,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	case "cassandra":
		return cassandra.NewAdapter(cassandra.Config{
			Hosts:             cfg.Hosts,
			Keyspace:          cfg.Keyspace,
			Table:             cfg.Table,
			Username:          cfg.Username,
			Password:          cfg.Password,
			Consistency:       cfg.Consistency,
			ReplicationClause: cfg.ReplicationClause,
			ConnectTimeout:    cfg.ConnectTimeout,
			QueryTimeout:      cfg.QueryTimeout,
		}, log)
	case "neo4j":
		return neo4j.NewAdapter(neo4j.Config{
			URL:          cfg.URL,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Database:     cfg.DatabaseName,
			QueryTimeout: cfg.QueryTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported storage.type %q (supported: %s)", cfg.Type, strings.Join(config.SupportedStorageTypes, ", "))
	}
}

// Package cassandra stores node records in a Cassandra table
// partitioned by node key and clustered by field, so whole-node reads
// come back in field order straight from the clustering index.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("cassandra adapter is closed")
	errNotConnected = errors.New("cassandra adapter is not connected; call Connect first")

	identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

const createTableTemplate = `CREATE TABLE IF NOT EXISTS %s.%s (
	node_key text,
	field    text,
	val      text,
	rel      text,
	state    bigint,
	PRIMARY KEY (node_key, field)
)`

// Adapter implements storage.Adapter on a Cassandra cluster.
type Adapter struct {
	cluster *gocql.ClusterConfig
	log     logger.Logger
	config  Config

	qSelectOne string
	qSelectAll string
	qInsert    string

	mu      sync.RWMutex
	session *gocql.Session
	closed  bool
}

// Config holds Cassandra adapter configuration.
type Config struct {
	Hosts    []string
	Keyspace string
	Table    string
	Username string
	Password string
	// Consistency names a gocql consistency level, e.g. "quorum" or
	// "one". Empty keeps the driver default.
	Consistency string
	// ReplicationClause is spliced into CREATE KEYSPACE verbatim.
	ReplicationClause string
	ConnectTimeout    time.Duration
	QueryTimeout      time.Duration
}

// NewAdapter validates the configuration and prepares the cluster
// profile and CQL statements. No session is opened until Connect.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("at least one cassandra host is required")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "nodekv"
	}
	// Keyspace and table names cannot be bound as parameters, so they
	// are validated here before being spliced into statements.
	if !identPattern.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("keyspace %q is not a valid identifier", cfg.Keyspace)
	}
	if cfg.Table == "" {
		cfg.Table = "node_records"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("table %q is not a valid identifier", cfg.Table)
	}
	if cfg.ReplicationClause == "" {
		cfg.ReplicationClause = "{'class': 'SimpleStrategy', 'replication_factor': 1}"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.QueryTimeout
	if cfg.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid consistency %q: %w", cfg.Consistency, err)
		}
		cluster.Consistency = consistency
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}

	a := &Adapter{cluster: cluster, log: log, config: cfg}
	a.buildQueries()
	return a, nil
}

// Statements are keyspace-qualified so the session does not depend on
// a keyspace that may not exist before Connect.
func (a *Adapter) buildQueries() {
	qualified := fmt.Sprintf("%s.%s", a.config.Keyspace, a.config.Table)
	a.qSelectOne = fmt.Sprintf("SELECT val, rel, state FROM %s WHERE node_key = ? AND field = ?", qualified)
	a.qSelectAll = fmt.Sprintf("SELECT field, val, rel, state FROM %s WHERE node_key = ?", qualified)
	a.qInsert = fmt.Sprintf("INSERT INTO %s (node_key, field, val, rel, state) VALUES (?, ?, ?, ?, ?)", qualified)
}

// Connect opens the session and ensures the keyspace and records table
// exist.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.session != nil {
		return nil
	}

	session, err := a.cluster.CreateSession()
	if err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to create cassandra session: %w", err))
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()

	keyspaceStmt := fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s",
		a.config.Keyspace, a.config.ReplicationClause)
	if err := session.Query(keyspaceStmt).WithContext(connectCtx).Exec(); err != nil {
		session.Close()
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ensure keyspace %s: %w", a.config.Keyspace, err))
	}

	tableStmt := fmt.Sprintf(createTableTemplate, a.config.Keyspace, a.config.Table)
	if err := session.Query(tableStmt).WithContext(connectCtx).Exec(); err != nil {
		session.Close()
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ensure table %s.%s: %w", a.config.Keyspace, a.config.Table, err))
	}

	a.session = session
	a.log.Info("cassandra adapter connected",
		"hosts", strings.Join(a.config.Hosts, ","),
		"keyspace", a.config.Keyspace,
		"table", a.config.Table,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
func (a *Adapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	session, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()

	if field != "" {
		var (
			val, rel *string
			state    int64
		)
		err := session.Query(a.qSelectOne, key, field).WithContext(opCtx).Scan(&val, &rel, &state)
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, storage.NewNotFound("get", key, field)
		}
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		rec, err := buildRecord(key, field, val, rel, state)
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	iter := session.Query(a.qSelectAll, key).WithContext(opCtx).Iter()
	var (
		records  []record.Record
		f        string
		val, rel *string
		state    int64
	)
	for iter.Scan(&f, &val, &rel, &state) {
		rec, err := buildRecord(key, f, val, rel, state)
		if err != nil {
			_ = iter.Close()
			return nil, storage.NewInternal("get", key, "", err)
		}
		records = append(records, rec)
		val, rel = nil, nil
	}
	if err := iter.Close(); err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time while the CQL iterator pages through the partition.
func (a *Adapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	session, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		var (
			val, rel *string
			state    int64
		)
		err := session.Query(a.qSelectOne, key, field).WithContext(ctx).Scan(&val, &rel, &state)
		if errors.Is(err, gocql.ErrNotFound) {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		rec, err := buildRecord(key, field, val, rel, state)
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	// The caller's context governs the whole iteration, so no query
	// timeout is applied here.
	iter := session.Query(a.qSelectAll, key).WithContext(ctx).Iter()
	return &iterStream{key: key, iter: iter}, nil
}

// Put writes every record of the batch concurrently and waits for all
// writes to finish. The first failure observed is returned; sibling
// writes that succeeded stay written. A CQL INSERT is an upsert, so
// rewriting a cell needs no read before write.
func (a *Adapter) Put(ctx context.Context, batch record.Batch) error {
	session, err := a.guard("put")
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	opCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, rec := range batch {
		wg.Add(1)
		go func(r record.Record) {
			defer wg.Done()
			if err := a.putOne(opCtx, session, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *Adapter) putOne(ctx context.Context, session *gocql.Session, r record.Record) error {
	if err := r.Validate(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	err := session.Query(a.qInsert, r.Key, r.Field, r.Val, r.Rel, r.State).WithContext(ctx).Exec()
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck probes the cluster with a system table read.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	session, err := a.guard("health")
	if err != nil {
		return err
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := session.Query("SELECT release_version FROM system.local").WithContext(hcCtx).Exec(); err != nil {
		a.log.Error("cassandra health check failed", "error", err)
		return fmt.Errorf("cassandra health check failed: %w", err)
	}
	return nil
}

// Close shuts the session down. Calling Close more than once is safe.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.session != nil {
		a.log.Info("closing cassandra connection")
		a.session.Close()
		a.session = nil
	}
	return nil
}

func (a *Adapter) guard(op string) (*gocql.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if a.session == nil {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.session, nil
}

func (a *Adapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}

// buildRecord copies the scanned values so records stay intact when
// the iterator reuses its scan targets on the next row.
func buildRecord(key, field string, val, rel *string, state int64) (record.Record, error) {
	rec := record.Record{Key: key, Field: field, State: state}
	if val != nil {
		v := *val
		rec.Val = &v
	}
	if rel != nil {
		v := *rel
		rec.Rel = &v
	}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt row at %s/%s: %w", key, field, err)
	}
	return rec, nil
}

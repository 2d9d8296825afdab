// Package postgres stores node records in a single table keyed by
// (node_key, field), with val and rel as nullable columns so exactly
// one is set per row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("postgres adapter is closed")
	errNotConnected = errors.New("postgres adapter is not connected; call Connect first")

	identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

const createTableTemplate = `CREATE TABLE IF NOT EXISTS %s (
	node_key TEXT NOT NULL,
	field    TEXT NOT NULL,
	val      TEXT,
	rel      TEXT,
	state    BIGINT NOT NULL,
	PRIMARY KEY (node_key, field)
)`

// PostgreSQLAdapter implements storage.Adapter on a pooled sql.DB.
type PostgreSQLAdapter struct {
	db     *sql.DB
	log    logger.Logger
	config Config

	qCreate    string
	qSelectOne string
	qSelectAll string
	qUpsert    string

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// NewPostgreSQLAdapter validates cfg and opens the connection pool.
// The database is not reached until Connect, which also ensures the
// records table exists.
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.Table == "" {
		cfg.Table = "node_records"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("table name %q is not a valid identifier", cfg.Table)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	a := &PostgreSQLAdapter{db: db, log: log, config: cfg}
	a.buildQueries()
	return a, nil
}

func (a *PostgreSQLAdapter) buildQueries() {
	t := a.config.Table
	a.qCreate = fmt.Sprintf(createTableTemplate, t)
	a.qSelectOne = fmt.Sprintf(
		"SELECT val, rel, state FROM %s WHERE node_key = $1 AND field = $2", t)
	a.qSelectAll = fmt.Sprintf(
		"SELECT field, val, rel, state FROM %s WHERE node_key = $1 ORDER BY field", t)
	a.qUpsert = fmt.Sprintf(
		"INSERT INTO %s (node_key, field, val, rel, state) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (node_key, field) DO UPDATE SET val = EXCLUDED.val, rel = EXCLUDED.rel, state = EXCLUDED.state", t)
}

// Connect verifies database connectivity and ensures the records table
// exists.
func (a *PostgreSQLAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.connected {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.db.PingContext(connectCtx); err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := a.db.ExecContext(connectCtx, a.qCreate); err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ensure %s table: %w", a.config.Table, err))
	}

	a.connected = true
	a.log.Info("postgresql connection established",
		"table", a.config.Table,
		"max_open_conns", a.config.MaxOpenConns,
		"max_idle_conns", a.config.MaxIdleConns,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
// Whole-node reads come back ordered by field.
func (a *PostgreSQLAdapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	db, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()

	if field != "" {
		var (
			val, rel sql.NullString
			state    int64
		)
		err := db.QueryRowContext(queryCtx, a.qSelectOne, key, field).Scan(&val, &rel, &state)
		if err == sql.ErrNoRows {
			return nil, storage.NewNotFound("get", key, field)
		}
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		rec, err := scanCell(key, field, val, rel, state)
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	rows, err := db.QueryContext(queryCtx, a.qSelectAll, key)
	if err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var (
			f        string
			val, rel sql.NullString
			state    int64
		)
		if err := rows.Scan(&f, &val, &rel, &state); err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		rec, err := scanCell(key, f, val, rel, state)
		if err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers rows one at a
// time. The caller's context governs the whole iteration, so no query
// timeout is applied here.
func (a *PostgreSQLAdapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	db, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		var (
			val, rel sql.NullString
			state    int64
		)
		err := db.QueryRowContext(ctx, a.qSelectOne, key, field).Scan(&val, &rel, &state)
		if err == sql.ErrNoRows {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		rec, err := scanCell(key, field, val, rel, state)
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	rows, err := db.QueryContext(ctx, a.qSelectAll, key)
	if err != nil {
		return storage.NewFailedStream("stream", key, "", nil, err), nil
	}
	return &rowsStream{key: key, rows: rows}, nil
}

// Put writes every record of the batch concurrently as an upsert on its
// (node_key, field) row and waits for all writes to finish. The first
// failure observed is returned; sibling writes that succeeded stay
// written.
func (a *PostgreSQLAdapter) Put(ctx context.Context, batch record.Batch) error {
	db, err := a.guard("put")
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	queryCtx, cancel := a.withQueryTimeout(ctx)
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
			if err := a.putOne(queryCtx, db, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *PostgreSQLAdapter) putOne(ctx context.Context, db *sql.DB, r record.Record) error {
	if err := r.Validate(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	if _, err := db.ExecContext(ctx, a.qUpsert, r.Key, r.Field, r.Val, r.Rel, r.State); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck verifies the database connection is healthy with a
// timeout.
func (a *PostgreSQLAdapter) HealthCheck(ctx context.Context) error {
	db, err := a.guard("health")
	if err != nil {
		return err
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(hcCtx); err != nil {
		a.log.Error("postgresql health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the connection pool. Close is idempotent.
func (a *PostgreSQLAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	a.mu.Unlock()

	a.log.Info("closing postgresql connection")
	if err := a.db.Close(); err != nil {
		a.log.Error("failed to close postgresql connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

func (a *PostgreSQLAdapter) guard(op string) (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if !a.connected {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.db, nil
}

func (a *PostgreSQLAdapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}

func scanCell(key, field string, val, rel sql.NullString, state int64) (record.Record, error) {
	rec := record.Record{Key: key, Field: field, State: state}
	if val.Valid {
		v := val.String
		rec.Val = &v
	}
	if rel.Valid {
		r := rel.String
		rec.Rel = &r
	}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt row at %s/%s: %w", key, field, err)
	}
	return rec, nil
}

// Package neo4j stores node records in a Neo4j graph. Every cell is a
// Cell node keyed by (node_key, field); relation cells additionally
// materialize a REL relationship between Node anchors so the graph
// stays traversable with plain Cypher.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v4/neo4j"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("neo4j adapter is closed")
	errNotConnected = errors.New("neo4j adapter is not connected; call Connect first")
)

const (
	upsertCellCypher = `MERGE (c:Cell {node_key: $key, field: $field})
SET c.val = $val, c.rel = $rel, c.state = $state`

	upsertEdgeCypher = `MERGE (a:Node {key: $key})
MERGE (b:Node {key: $rel})
MERGE (a)-[e:REL {field: $field}]->(b)
SET e.state = $state`

	dropEdgeCypher = `MATCH (:Node {key: $key})-[e:REL {field: $field}]->() DELETE e`

	selectOneCypher = `MATCH (c:Cell {node_key: $key, field: $field})
RETURN c.val, c.rel, c.state`

	selectAllCypher = `MATCH (c:Cell {node_key: $key})
RETURN c.field, c.val, c.rel, c.state
ORDER BY c.field`

	createIndexCypher = `CREATE INDEX cell_lookup IF NOT EXISTS FOR (c:Cell) ON (c.node_key, c.field)`
)

// Adapter implements storage.Adapter on a Neo4j graph.
type Adapter struct {
	driver neo4jdrv.Driver
	log    logger.Logger
	config Config

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// Config holds Neo4j adapter configuration.
type Config struct {
	// URL is a bolt:// or neo4j:// URI.
	URL      string
	Username string
	Password string
	// Database selects a named database; empty uses the server default.
	Database     string
	QueryTimeout time.Duration
}

// NewAdapter validates the URI and prepares the driver. Nothing is
// sent over the wire until Connect.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("neo4j url is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	auth := neo4jdrv.NoAuth()
	if cfg.Username != "" {
		auth = neo4jdrv.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4jdrv.NewDriver(cfg.URL, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	return &Adapter{driver: driver, log: log, config: cfg}, nil
}

// Connect verifies connectivity and ensures the Cell lookup index
// exists.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.connected {
		return nil
	}

	if err := a.driver.VerifyConnectivity(); err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("neo4j is not reachable: %w", err))
	}

	session := a.newSession(neo4jdrv.AccessModeWrite)
	defer session.Close()

	result, err := session.Run(createIndexCypher, nil)
	if err == nil {
		_, err = result.Consume()
	}
	if err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ensure cell index: %w", err))
	}

	a.connected = true
	a.log.Info("neo4j adapter connected", "url", a.config.URL, "database", a.config.Database)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
func (a *Adapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	if _, err := a.guard("get"); err != nil {
		return nil, err
	}

	session := a.newSession(neo4jdrv.AccessModeRead)
	defer session.Close()

	if field != "" {
		rec, found, err := a.fetchOne(session, key, field)
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		if !found {
			return nil, storage.NewNotFound("get", key, field)
		}
		return []record.Record{rec}, nil
	}

	out, err := session.ReadTransaction(func(tx neo4jdrv.Transaction) (interface{}, error) {
		result, err := tx.Run(selectAllCypher, map[string]interface{}{"key": key})
		if err != nil {
			return nil, err
		}
		var records []record.Record
		for result.Next() {
			r := result.Record()
			f, ok := r.GetByIndex(0).(string)
			if !ok {
				return nil, fmt.Errorf("corrupt cell on %s: field is %T", key, r.GetByIndex(0))
			}
			rec, err := cellRecord(key, f, r.GetByIndex(1), r.GetByIndex(2), r.GetByIndex(3))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return records, nil
	}, neo4jdrv.WithTxTimeout(a.config.QueryTimeout))
	if err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	records := out.([]record.Record)
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time while the driver pages through the result.
func (a *Adapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	if _, err := a.guard("stream"); err != nil {
		return nil, err
	}

	if field != "" {
		session := a.newSession(neo4jdrv.AccessModeRead)
		defer session.Close()

		rec, found, err := a.fetchOne(session, key, field)
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		if !found {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	// An auto-commit session streams lazily; the session stays open
	// until the stream finishes or is closed.
	session := a.newSession(neo4jdrv.AccessModeRead)
	result, err := session.Run(selectAllCypher, map[string]interface{}{"key": key})
	if err != nil {
		session.Close()
		return storage.NewFailedStream("stream", key, "", nil, err), nil
	}
	return &resultStream{key: key, session: session, result: result}, nil
}

// Put writes every record of the batch concurrently and waits for all
// writes to finish. Sessions are not safe for concurrent use, so each
// record gets its own.
func (a *Adapter) Put(ctx context.Context, batch record.Batch) error {
	if _, err := a.guard("put"); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, rec := range batch {
		wg.Add(1)
		go func(r record.Record) {
			defer wg.Done()
			if err := a.putOne(r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *Adapter) putOne(r record.Record) error {
	if err := r.Validate(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}

	session := a.newSession(neo4jdrv.AccessModeWrite)
	defer session.Close()

	params := map[string]interface{}{
		"key":   r.Key,
		"field": r.Field,
		"state": r.State,
		"val":   nil,
		"rel":   nil,
	}
	if r.Val != nil {
		params["val"] = *r.Val
	}
	if r.Rel != nil {
		params["rel"] = *r.Rel
	}

	_, err := session.WriteTransaction(func(tx neo4jdrv.Transaction) (interface{}, error) {
		// SET to null removes the property, so the cell never keeps
		// both sides after an overwrite.
		if _, err := tx.Run(upsertCellCypher, params); err != nil {
			return nil, err
		}
		// Whatever relationship the field carried before is retired
		// first, so a repointed edge never leaves the old target
		// linked and a scalar overwrite leaves no edge at all.
		if _, err := tx.Run(dropEdgeCypher, params); err != nil {
			return nil, err
		}
		if r.Rel != nil {
			if _, err := tx.Run(upsertEdgeCypher, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, neo4jdrv.WithTxTimeout(a.config.QueryTimeout))
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck probes the server. VerifyConnectivity has no context
// variant in the v4 driver.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.guard("health"); err != nil {
		return err
	}

	if err := a.driver.VerifyConnectivity(); err != nil {
		a.log.Error("neo4j health check failed", "error", err)
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Close shuts the driver down. Calling Close more than once is safe.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	a.log.Info("closing neo4j connection")
	return a.driver.Close()
}

func (a *Adapter) guard(op string) (neo4jdrv.Driver, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if !a.connected {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.driver, nil
}

func (a *Adapter) newSession(mode neo4jdrv.AccessMode) neo4jdrv.Session {
	return a.driver.NewSession(neo4jdrv.SessionConfig{
		AccessMode:   mode,
		DatabaseName: a.config.Database,
	})
}

func (a *Adapter) fetchOne(session neo4jdrv.Session, key, field string) (record.Record, bool, error) {
	out, err := session.ReadTransaction(func(tx neo4jdrv.Transaction) (interface{}, error) {
		result, err := tx.Run(selectOneCypher, map[string]interface{}{"key": key, "field": field})
		if err != nil {
			return nil, err
		}
		if !result.Next() {
			return nil, result.Err()
		}
		r := result.Record()
		rec, err := cellRecord(key, field, r.GetByIndex(0), r.GetByIndex(1), r.GetByIndex(2))
		if err != nil {
			return nil, err
		}
		return rec, nil
	}, neo4jdrv.WithTxTimeout(a.config.QueryTimeout))
	if err != nil {
		return record.Record{}, false, err
	}
	if out == nil {
		return record.Record{}, false, nil
	}
	return out.(record.Record), true, nil
}

func cellRecord(key, field string, val, rel, state interface{}) (record.Record, error) {
	rec := record.Record{Key: key, Field: field}
	switch v := val.(type) {
	case nil:
	case string:
		rec.Val = &v
	default:
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: val is %T", key, field, val)
	}
	switch v := rel.(type) {
	case nil:
	case string:
		rec.Rel = &v
	default:
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: rel is %T", key, field, rel)
	}
	switch v := state.(type) {
	case int64:
		rec.State = v
	default:
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: state is %T", key, field, state)
	}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: %w", key, field, err)
	}
	return rec, nil
}

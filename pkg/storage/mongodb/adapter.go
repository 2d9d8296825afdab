// Package mongodb stores node records as one document per cell in a
// single collection, uniquely indexed by (key, field).
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("mongodb adapter is closed")
	errNotConnected = errors.New("mongodb adapter is not connected; call Connect first")
)

// Adapter implements storage.Adapter on top of a MongoDB collection.
type Adapter struct {
	config Config
	log    logger.Logger

	mu     sync.RWMutex
	client *mongo.Client
	coll   *mongo.Collection
	closed bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	Collection       string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Cosa fa: valida la configurazione e prepara l'adapter MongoDB.
// Cosa NON fa: non apre connessioni; Connect esegue dial, ping e indici.
// Esempio minimo: adapter, err := mongodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "records"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	return &Adapter{config: cfg, log: log}, nil
}

// Connect dials MongoDB, verifies connectivity via ping and ensures the
// unique (key, field) index exists.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.client != nil {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(a.config.URL))
	if err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to connect to mongodb: %w", err))
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ping mongodb: %w", err))
	}

	coll := client.Database(a.config.Database).Collection(a.config.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "field", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ensure record index: %w", err))
	}

	a.client = client
	a.coll = coll
	a.log.Info("mongodb connection established",
		"database", a.config.Database,
		"collection", a.config.Collection,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
// Whole-node reads sort by field for stable output.
func (a *Adapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	coll, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if field != "" {
		var doc document
		err := coll.FindOne(opCtx, bson.M{"key": key, "field": field}).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return nil, storage.NewNotFound("get", key, field)
		}
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	cursor, err := coll.Find(opCtx, bson.M{"key": key}, options.Find().SetSort(bson.D{{Key: "field", Value: 1}}))
	if err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	defer cursor.Close(opCtx)

	var records []record.Record
	for cursor.Next(opCtx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time off a live cursor.
func (a *Adapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	coll, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		var doc document
		err := coll.FindOne(ctx, bson.M{"key": key, "field": field}).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		rec, err := doc.toRecord()
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	cursor, err := coll.Find(ctx, bson.M{"key": key}, options.Find().SetSort(bson.D{{Key: "field", Value: 1}}))
	if err != nil {
		return storage.NewFailedStream("stream", key, "", nil, err), nil
	}
	return &cursorStream{key: key, cursor: cursor}, nil
}

// Put writes every record of the batch concurrently as an upsert on its
// (key, field) slot and waits for all writes to finish. The first
// failure observed is returned; sibling writes that succeeded stay
// written.
func (a *Adapter) Put(ctx context.Context, batch record.Batch) error {
	coll, err := a.guard("put")
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
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
			if err := a.putOne(opCtx, coll, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *Adapter) putOne(ctx context.Context, coll *mongo.Collection, r record.Record) error {
	if err := r.Validate(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	_, err := coll.ReplaceOne(ctx,
		bson.M{"key": r.Key, "field": r.Field},
		toDocument(r),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck verifies the MongoDB connection is healthy with a timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	client := a.client
	closed := a.closed
	a.mu.RUnlock()

	if closed {
		return storage.NewInternal("health", "", "", errClosed)
	}
	if client == nil {
		return storage.NewInternal("health", "", "", errNotConnected)
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(hcCtx, readpref.Primary()); err != nil {
		a.log.Error("mongodb health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB. Close is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	client := a.client
	a.client = nil
	a.coll = nil
	a.mu.Unlock()

	if client == nil {
		return nil
	}

	a.log.Info("closing mongodb connection")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		a.log.Error("failed to close mongodb connection", "error", err)
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

func (a *Adapter) guard(op string) (*mongo.Collection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if a.coll == nil {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.coll, nil
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

// document is the BSON shape of one cell. Exactly one of Val and Rel is
// set.
type document struct {
	Key   string  `bson:"key"`
	Field string  `bson:"field"`
	Val   *string `bson:"val,omitempty"`
	Rel   *string `bson:"rel,omitempty"`
	State int64   `bson:"state"`
}

func toDocument(r record.Record) document {
	return document{Key: r.Key, Field: r.Field, Val: r.Val, Rel: r.Rel, State: r.State}
}

func (d document) toRecord() (record.Record, error) {
	rec := record.Record{Key: d.Key, Field: d.Field, Val: d.Val, Rel: d.Rel, State: d.State}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt document at %s/%s: %w", d.Key, d.Field, err)
	}
	return rec, nil
}

// Package redis stores node records in Redis hashes, one hash per node.
// Every hash field holds one JSON-encoded cell carrying the scalar or
// edge payload together with its state stamp.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("redis adapter is closed")
	errNotConnected = errors.New("redis adapter is not connected; call Connect first")
)

// RedisAdapter implements storage.Adapter on top of a pooled Redis client.
type RedisAdapter struct {
	opts   *redis.Options
	log    logger.Logger
	config Config

	mu     sync.RWMutex
	client *redis.Client
	closed bool
}

// Config holds Redis connection configuration.
type Config struct {
	URL              string
	KeyPrefix        string
	MaxConns         int
	OperationTimeout time.Duration
	ScanCount        int64
}

// NewRedisAdapter validates cfg and prepares client options. No
// connection is made until Connect.
func NewRedisAdapter(cfg Config, log logger.Logger) (*RedisAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "nodekv:"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConns
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	return &RedisAdapter{
		opts:   opts,
		log:    log,
		config: cfg,
	}, nil
}

// Connect dials Redis and verifies the connection with a ping.
func (a *RedisAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.client != nil {
		return nil
	}

	client := redis.NewClient(a.opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to ping redis: %w", err))
	}

	a.client = client
	a.log.Info("redis connection established",
		"addr", a.opts.Addr,
		"key_prefix", a.config.KeyPrefix,
		"max_conns", a.config.MaxConns,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
// Redis hashes carry no insertion order, so whole-node reads are sorted
// by field for stable output.
func (a *RedisAdapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	client, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	if field != "" {
		payload, err := client.HGet(ctx, a.nodeKey(key), field).Result()
		if err == redis.Nil {
			return nil, storage.NewNotFound("get", key, field)
		}
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		rec, err := decodeCell(key, field, payload)
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	cells, err := client.HGetAll(ctx, a.nodeKey(key)).Result()
	if err != nil {
		return nil, storage.NewInternal("get", key, "", err)
	}
	if len(cells) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}

	fields := make([]string, 0, len(cells))
	for f := range cells {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	records := make([]record.Record, 0, len(cells))
	for _, f := range fields {
		rec, err := decodeCell(key, f, cells[f])
		if err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time. Whole-node streams ride HSCAN and surface cells in scan order.
func (a *RedisAdapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	client, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		payload, err := client.HGet(ctx, a.nodeKey(key), field).Result()
		if err == redis.Nil {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		rec, err := decodeCell(key, field, payload)
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	iter := client.HScan(ctx, a.nodeKey(key), 0, "", a.config.ScanCount).Iterator()
	return &hashStream{key: key, iter: iter}, nil
}

// Put writes every record of the batch concurrently and waits for all
// writes to finish. The first failure observed is returned; sibling
// writes that succeeded stay written.
func (a *RedisAdapter) Put(ctx context.Context, batch record.Batch) error {
	client, err := a.guard("put")
	if err != nil {
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
			if err := a.putOne(ctx, client, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *RedisAdapter) putOne(ctx context.Context, client *redis.Client, r record.Record) error {
	payload, err := encodeCell(r)
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	if err := client.HSet(ctx, a.nodeKey(r.Key), r.Field, payload).Err(); err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck verifies the Redis connection is healthy with a timeout.
func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	client, err := a.guard("health")
	if err != nil {
		return err
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(hcCtx).Err(); err != nil {
		a.log.Error("redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection. Close is idempotent.
func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	client := a.client
	a.client = nil
	a.mu.Unlock()

	if client == nil {
		return nil
	}

	a.log.Info("closing redis connection")
	if err := client.Close(); err != nil {
		a.log.Error("failed to close redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

func (a *RedisAdapter) guard(op string) (*redis.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if a.client == nil {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.client, nil
}

func (a *RedisAdapter) nodeKey(key string) string {
	return a.config.KeyPrefix + key
}

// cell is the hash-field payload. Exactly one of Val and Rel is set.
type cell struct {
	Val   *string `json:"val,omitempty"`
	Rel   *string `json:"rel,omitempty"`
	State int64   `json:"state"`
}

func encodeCell(r record.Record) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(cell{Val: r.Val, Rel: r.Rel, State: r.State})
	if err != nil {
		return "", fmt.Errorf("failed to encode cell %s/%s: %w", r.Key, r.Field, err)
	}
	return string(payload), nil
}

func decodeCell(key, field, payload string) (record.Record, error) {
	var c cell
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: %w", key, field, err)
	}
	rec := record.Record{Key: key, Field: field, Val: c.Val, Rel: c.Rel, State: c.State}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: %w", key, field, err)
	}
	return rec, nil
}

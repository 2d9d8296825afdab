// Package s3 stores node records as JSON objects in an S3 bucket, one
// object per cell at <prefix><key>/<field>. S3 lists objects in
// lexical key order, so whole-node reads come back sorted by field.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("s3 adapter is closed")
	errNotConnected = errors.New("s3 adapter is not connected; call Connect first")
)

type s3API interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Adapter implements storage.Adapter on an S3 bucket.
type Adapter struct {
	client s3API
	log    logger.Logger
	config Config

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// Config holds S3 adapter configuration.
type Config struct {
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	KeyPrefix        string
	PageSize         int32
	OperationTimeout time.Duration
}

// NewAdapter builds the S3 client with support for custom endpoints
// such as MinIO or LocalStack. Nothing is sent over the wire until
// Connect.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "nodekv/"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	clientOptions := make([]func(*awss3.Options), 0, 2)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Adapter{
		client: awss3.NewFromConfig(awsCfg, clientOptions...),
		log:    log,
		config: cfg,
	}, nil
}

// Connect verifies the bucket is reachable. Buckets are an ops concern
// here; Connect never creates one.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return storage.NewInternal("connect", "", "", errClosed)
	}
	if a.connected {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	_, err := a.client.HeadBucket(connectCtx, &awss3.HeadBucketInput{
		Bucket: aws.String(a.config.Bucket),
	})
	if err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("bucket %q is not reachable: %w", a.config.Bucket, err))
	}

	a.connected = true
	a.log.Info("s3 adapter connected",
		"bucket", a.config.Bucket,
		"region", a.config.Region,
		"endpoint", a.config.Endpoint,
		"prefix", a.config.KeyPrefix,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
func (a *Adapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	client, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if field != "" {
		rec, err := a.fetchCell(opCtx, client, a.objectKey(key, field), key, field)
		if err != nil {
			if isNoSuchKey(err) {
				return nil, storage.NewNotFound("get", key, field)
			}
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	prefix := a.nodePrefix(key)
	var (
		records []record.Record
		token   *string
	)
	for {
		out, err := client.ListObjectsV2(opCtx, a.listInput(prefix, token))
		if err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		for _, obj := range out.Contents {
			objKey := aws.ToString(obj.Key)
			rec, err := a.fetchCell(opCtx, client, objKey, key, strings.TrimPrefix(objKey, prefix))
			if err != nil {
				return nil, storage.NewInternal("get", key, "", err)
			}
			records = append(records, rec)
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time, fetching list pages and object bodies lazily as the consumer
// advances.
func (a *Adapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	client, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		rec, err := a.fetchCell(ctx, client, a.objectKey(key, field), key, field)
		if err != nil {
			if isNoSuchKey(err) {
				return storage.NewSliceStream("stream", key, field, nil), nil
			}
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	return &listStream{adapter: a, client: client, key: key, prefix: a.nodePrefix(key)}, nil
}

// Put writes every record of the batch concurrently and waits for all
// writes to finish. The first failure observed is returned; sibling
// writes that succeeded stay written.
func (a *Adapter) Put(ctx context.Context, batch record.Batch) error {
	client, err := a.guard("put")
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
			if err := a.putOne(opCtx, client, r); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(rec)
	}
	wg.Wait()
	return firstErr
}

func (a *Adapter) putOne(ctx context.Context, client s3API, r record.Record) error {
	payload, err := encodeCell(r)
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	_, err = client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(a.objectKey(r.Key, r.Field)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck verifies the bucket is still reachable with a timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	client, err := a.guard("health")
	if err != nil {
		return err
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err = client.HeadBucket(hcCtx, &awss3.HeadBucketInput{
		Bucket: aws.String(a.config.Bucket),
	})
	if err != nil {
		a.log.Error("s3 health check failed", "error", err)
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter as closed. The underlying HTTP client needs
// no teardown.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

func (a *Adapter) guard(op string) (s3API, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.NewInternal(op, "", "", errClosed)
	}
	if !a.connected {
		return nil, storage.NewInternal(op, "", "", errNotConnected)
	}
	return a.client, nil
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

func (a *Adapter) fetchCell(ctx context.Context, client s3API, objKey, key, field string) (record.Record, error) {
	resp, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return record.Record{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return record.Record{}, fmt.Errorf("failed to read object %q: %w", objKey, err)
	}
	return decodeCell(key, field, payload)
}

func (a *Adapter) listInput(prefix string, token *string) *awss3.ListObjectsV2Input {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(a.config.Bucket),
		Prefix: aws.String(prefix),
	}
	if a.config.PageSize > 0 {
		input.MaxKeys = aws.Int32(a.config.PageSize)
	}
	if token != nil {
		input.ContinuationToken = token
	}
	return input
}

// The node key segment is path-escaped so a key containing "/" cannot
// cross into another node's prefix. Fields pass through verbatim; the
// remainder after the node prefix is the field.
func (a *Adapter) objectKey(key, field string) string {
	return a.nodePrefix(key) + field
}

func (a *Adapter) nodePrefix(key string) string {
	return a.config.KeyPrefix + url.PathEscape(key) + "/"
}

func isNoSuchKey(err error) bool {
	var noSuchKey *awss3types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

type cell struct {
	Val   *string `json:"val,omitempty"`
	Rel   *string `json:"rel,omitempty"`
	State int64   `json:"state"`
}

func encodeCell(r record.Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cell{Val: r.Val, Rel: r.Rel, State: r.State})
}

func decodeCell(key, field string, payload []byte) (record.Record, error) {
	var c cell
	if err := json.Unmarshal(payload, &c); err != nil {
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: %w", key, field, err)
	}
	rec := record.Record{Key: key, Field: field, Val: c.Val, Rel: c.Rel, State: c.State}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt cell at %s/%s: %w", key, field, err)
	}
	return rec, nil
}

// Package dynamodb stores node records in a DynamoDB table with
// node_key as partition key and field as sort key. The table must
// already exist; Connect verifies it is reachable.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

var (
	errClosed       = errors.New("dynamodb adapter is closed")
	errNotConnected = errors.New("dynamodb adapter is not connected; call Connect first")
)

type dynamoAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Adapter implements storage.Adapter on a DynamoDB table.
type Adapter struct {
	client dynamoAPI
	log    logger.Logger
	config Config

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// Config holds DynamoDB adapter configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	Table            string
	PageSize         int32
	OperationTimeout time.Duration
}

// NewAdapter builds the DynamoDB client with support for custom
// endpoints. Nothing is sent over the wire until Connect.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
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

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Adapter{
		client: dynamodb.NewFromConfig(awsCfg, opts...),
		log:    log,
		config: cfg,
	}, nil
}

// Connect verifies the records table exists and is reachable. Tables
// are an ops concern here; Connect never creates one.
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

	_, err := a.client.DescribeTable(connectCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.Table),
	})
	if err != nil {
		return storage.NewInternal("connect", "", "", fmt.Errorf("failed to describe table %q: %w", a.config.Table, err))
	}

	a.connected = true
	a.log.Info("dynamodb adapter connected",
		"region", a.config.Region,
		"endpoint", a.config.Endpoint,
		"table", a.config.Table,
	)
	return nil
}

// Get reads one field of a node, or every field when field is empty.
// Whole-node reads follow the sort key, so fields come back in lexical
// order.
func (a *Adapter) Get(ctx context.Context, key, field string) ([]record.Record, error) {
	client, err := a.guard("get")
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if field != "" {
		out, err := client.GetItem(opCtx, &dynamodb.GetItemInput{
			TableName: aws.String(a.config.Table),
			Key:       itemKey(key, field),
		})
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		if len(out.Item) == 0 {
			return nil, storage.NewNotFound("get", key, field)
		}
		rec, err := decodeItem(out.Item)
		if err != nil {
			return nil, storage.NewInternal("get", key, field, err)
		}
		return []record.Record{rec}, nil
	}

	var (
		records  []record.Record
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := client.Query(opCtx, a.queryInput(key, startKey))
		if err != nil {
			return nil, storage.NewInternal("get", key, "", err)
		}
		for _, item := range out.Items {
			rec, err := decodeItem(item)
			if err != nil {
				return nil, storage.NewInternal("get", key, "", err)
			}
			records = append(records, rec)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	if len(records) == 0 {
		return nil, storage.NewNotFound("get", key, "")
	}
	return records, nil
}

// Stream reads the same selection as Get but delivers records one at a
// time, fetching query pages lazily as the consumer advances.
func (a *Adapter) Stream(ctx context.Context, key, field string) (storage.Stream, error) {
	client, err := a.guard("stream")
	if err != nil {
		return nil, err
	}

	if field != "" {
		out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(a.config.Table),
			Key:       itemKey(key, field),
		})
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		if len(out.Item) == 0 {
			return storage.NewSliceStream("stream", key, field, nil), nil
		}
		rec, err := decodeItem(out.Item)
		if err != nil {
			return storage.NewFailedStream("stream", key, field, nil, err), nil
		}
		return storage.NewSliceStream("stream", key, field, []record.Record{rec}), nil
	}

	return &queryStream{adapter: a, client: client, key: key}, nil
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

func (a *Adapter) putOne(ctx context.Context, client dynamoAPI, r record.Record) error {
	item, err := encodeItem(r)
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.config.Table),
		Item:      item,
	})
	if err != nil {
		return storage.NewInternal("put", r.Key, r.Field, err)
	}
	return nil
}

// HealthCheck verifies the table is still reachable with a timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	client, err := a.guard("health")
	if err != nil {
		return err
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err = client.DescribeTable(hcCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.Table),
	})
	if err != nil {
		a.log.Error("dynamodb health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
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

func (a *Adapter) guard(op string) (dynamoAPI, error) {
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

func (a *Adapter) queryInput(key string, startKey map[string]types.AttributeValue) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(a.config.Table),
		KeyConditionExpression: aws.String("node_key = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
	}
	if a.config.PageSize > 0 {
		input.Limit = aws.Int32(a.config.PageSize)
	}
	if len(startKey) > 0 {
		input.ExclusiveStartKey = startKey
	}
	return input
}

func itemKey(key, field string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"node_key": &types.AttributeValueMemberS{Value: key},
		"field":    &types.AttributeValueMemberS{Value: field},
	}
}

func encodeItem(r record.Record) (map[string]types.AttributeValue, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	item := map[string]types.AttributeValue{
		"node_key": &types.AttributeValueMemberS{Value: r.Key},
		"field":    &types.AttributeValueMemberS{Value: r.Field},
		"state":    &types.AttributeValueMemberN{Value: strconv.FormatInt(r.State, 10)},
	}
	if r.Val != nil {
		item["val"] = &types.AttributeValueMemberS{Value: *r.Val}
	}
	if r.Rel != nil {
		item["rel"] = &types.AttributeValueMemberS{Value: *r.Rel}
	}
	return item, nil
}

func decodeItem(item map[string]types.AttributeValue) (record.Record, error) {
	var rec record.Record
	if s, ok := item["node_key"].(*types.AttributeValueMemberS); ok {
		rec.Key = s.Value
	}
	if s, ok := item["field"].(*types.AttributeValueMemberS); ok {
		rec.Field = s.Value
	}
	if s, ok := item["val"].(*types.AttributeValueMemberS); ok {
		v := s.Value
		rec.Val = &v
	}
	if s, ok := item["rel"].(*types.AttributeValueMemberS); ok {
		v := s.Value
		rec.Rel = &v
	}
	if n, ok := item["state"].(*types.AttributeValueMemberN); ok {
		state, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return record.Record{}, fmt.Errorf("corrupt state %q at %s/%s: %w", n.Value, rec.Key, rec.Field, err)
		}
		rec.State = state
	}
	if err := rec.Validate(); err != nil {
		return record.Record{}, fmt.Errorf("corrupt item at %s/%s: %w", rec.Key, rec.Field, err)
	}
	return rec, nil
}

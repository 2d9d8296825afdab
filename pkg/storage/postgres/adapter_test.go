package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nodekv/nodekv/pkg/observability/logger"
	"github.com/nodekv/nodekv/pkg/record"
	"github.com/nodekv/nodekv/pkg/storage"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)             {}
func (m *mockLogger) Info(msg string, args ...any)              {}
func (m *mockLogger) Warn(msg string, args ...any)              {}
func (m *mockLogger) Error(msg string, args ...any)             {}
func (m *mockLogger) With(args ...any) logger.Logger            { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

// newMockAdapter wires a sqlmock db into an adapter that believes it is
// connected, mirroring what the constructor and Connect produce.
func newMockAdapter(db *sql.DB) *PostgreSQLAdapter {
	a := &PostgreSQLAdapter{
		db:        db,
		log:       &mockLogger{},
		config:    Config{Table: "node_records", QueryTimeout: 2 * time.Second},
		connected: true,
	}
	a.buildQueries()
	return a
}

func TestNewPostgreSQLAdapter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing URL",
			cfg:     Config{},
			wantErr: "database URL is required",
		},
		{
			name:    "invalid table identifier",
			cfg:     Config{URL: "postgres://localhost/nodes", Table: "records; DROP TABLE x"},
			wantErr: "not a valid identifier",
		},
		{
			name: "valid config applies defaults",
			cfg:  Config{URL: "postgres://localhost/nodes", MaxOpenConns: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewPostgreSQLAdapter(tt.cfg, &mockLogger{})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("NewPostgreSQLAdapter() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPostgreSQLAdapter() error = %v", err)
			}
			defer a.Close()
			if a.config.Table != "node_records" {
				t.Errorf("Table = %q, want default node_records", a.config.Table)
			}
			if a.config.QueryTimeout != 5*time.Second {
				t.Errorf("QueryTimeout = %v, want 5s", a.config.QueryTimeout)
			}
		})
	}
}

func TestConnectEnsuresSchema(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS node_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	a := newMockAdapter(db)
	a.connected = false

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Errorf("repeat Connect() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations: %v", err)
	}
}

func TestConnectPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	a := newMockAdapter(db)
	a.connected = false

	if err := a.Connect(context.Background()); !storage.IsInternal(err) {
		t.Errorf("Connect() with failing ping = %v, want internal", err)
	}
}

func TestGetSingleField(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT val, rel, state FROM node_records WHERE node_key = \\$1 AND field = \\$2").
		WithArgs("n1", "name").
		WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}).AddRow("ada", nil, 7))

	recs, err := a.Get(context.Background(), "n1", "name")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Get() returned %d records, want 1", len(recs))
	}
	got := recs[0]
	if got.ValOrEmpty() != "ada" || got.HasRel() || got.State != 7 {
		t.Errorf("Get() = %+v, want scalar ada@7", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations: %v", err)
	}
}

func TestGetSingleFieldNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT val, rel, state FROM node_records").
		WithArgs("n1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}))

	if _, err := a.Get(context.Background(), "n1", "ghost"); !storage.IsNotFound(err) {
		t.Errorf("Get() missing field = %v, want not found", err)
	}
}

func TestGetWholeNode(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	rows := sqlmock.NewRows([]string{"field", "val", "rel", "state"}).
		AddRow("email", "ada@example.com", nil, 11).
		AddRow("name", "ada", nil, 10).
		AddRow("team", nil, "team-9", 12)
	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records WHERE node_key = \\$1 ORDER BY field").
		WithArgs("n1").
		WillReturnRows(rows)

	recs, err := a.Get(context.Background(), "n1", "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Get() returned %d records, want 3", len(recs))
	}
	if recs[0].Field != "email" || recs[1].Field != "name" || recs[2].Field != "team" {
		t.Errorf("Get() field order = %s,%s,%s", recs[0].Field, recs[1].Field, recs[2].Field)
	}
	if !recs[2].HasRel() || recs[2].RelOrEmpty() != "team-9" {
		t.Errorf("team cell = %+v, want edge to team-9", recs[2])
	}
}

func TestGetWholeNodeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"field", "val", "rel", "state"}))

	if _, err := a.Get(context.Background(), "ghost", ""); !storage.IsNotFound(err) {
		t.Errorf("Get() missing node = %v, want not found", err)
	}
}

func TestGetQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("n1").
		WillReturnError(errors.New("connection reset"))

	if _, err := a.Get(context.Background(), "n1", ""); !storage.IsInternal(err) {
		t.Errorf("Get() with query failure = %v, want internal", err)
	}
}

func TestGetCorruptRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	// Both columns NULL breaks the one-of invariant.
	mock.ExpectQuery("SELECT val, rel, state FROM node_records").
		WithArgs("n1", "broken").
		WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}).AddRow(nil, nil, 1))

	if _, err := a.Get(context.Background(), "n1", "broken"); !storage.IsInternal(err) {
		t.Errorf("Get() corrupt row = %v, want internal", err)
	}
}

func TestPutUpsertsEachRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	a := newMockAdapter(db)

	mock.ExpectExec("INSERT INTO node_records").
		WithArgs("n1", "name", "ada", nil, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO node_records").
		WithArgs("n1", "team", nil, "team-9", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	batch := record.Batch{
		record.Value("n1", "name", "ada", 10),
		record.Relation("n1", "team", "team-9", 12),
	}
	if err := a.Put(context.Background(), batch); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations: %v", err)
	}
}

func TestPutEmptyBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	if err := a.Put(context.Background(), record.Batch{}); err != nil {
		t.Errorf("Put() empty batch = %v, want nil", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("empty batch touched the database: %v", err)
	}
}

func TestPutReportsFailureAfterAwaitingSiblings(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	a := newMockAdapter(db)

	mock.ExpectExec("INSERT INTO node_records").
		WithArgs("n1", "a", "1", nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO node_records").
		WithArgs("n1", "b", "2", nil, int64(2)).
		WillReturnError(errors.New("disk full"))

	batch := record.Batch{
		record.Value("n1", "a", "1", 1),
		record.Value("n1", "b", "2", 2),
	}
	err = a.Put(context.Background(), batch)
	if !storage.IsInternal(err) {
		t.Errorf("Put() with failing write = %v, want internal", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sibling write was not attempted: %v", err)
	}
}

func TestPutInvalidRecordNeverReachesDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	err = a.Put(context.Background(), record.Batch{{Key: "n1", Field: "broken", State: 1}})
	if !storage.IsInternal(err) {
		t.Errorf("Put() invalid record = %v, want internal", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("invalid record touched the database: %v", err)
	}
}

func TestStreamDeliversRowsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	rows := sqlmock.NewRows([]string{"field", "val", "rel", "state"}).
		AddRow("a", "1", nil, 1).
		AddRow("b", nil, "n2", 2).
		AddRow("c", "3", nil, 3)
	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("n1").
		WillReturnRows(rows)

	stream, err := a.Stream(context.Background(), "n1", "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	var fields []string
	for stream.Next(context.Background()) {
		fields = append(fields, stream.Record().Field)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
	if strings.Join(fields, ",") != "a,b,c" {
		t.Errorf("stream order = %v, want a,b,c", fields)
	}
}

func TestStreamEmptyNodeIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"field", "val", "rel", "state"}))

	stream, err := a.Stream(context.Background(), "ghost", "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if stream.Next(context.Background()) {
		t.Fatal("Next() on empty node delivered a record")
	}
	if err := stream.Err(); !storage.IsNotFound(err) {
		t.Errorf("Err() = %v, want not found", err)
	}
}

func TestStreamFailureAfterDeliveryKeepsRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	rows := sqlmock.NewRows([]string{"field", "val", "rel", "state"}).
		AddRow("a", "1", nil, 1).
		AddRow("b", "2", nil, 2).
		RowError(1, errors.New("connection lost"))
	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("n1").
		WillReturnRows(rows)

	stream, err := a.Stream(context.Background(), "n1", "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var delivered []string
	for stream.Next(context.Background()) {
		delivered = append(delivered, stream.Record().Field)
	}
	if len(delivered) != 1 || delivered[0] != "a" {
		t.Errorf("delivered = %v, want just a", delivered)
	}
	// The failure outranks the thin result set; the delivered record
	// still stands.
	if err := stream.Err(); !storage.IsInternal(err) {
		t.Errorf("Err() = %v, want internal", err)
	}
}

func TestStreamQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT field, val, rel, state FROM node_records").
		WithArgs("n1").
		WillReturnError(errors.New("server gone"))

	stream, err := a.Stream(context.Background(), "n1", "")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if stream.Next(context.Background()) {
		t.Fatal("Next() after query failure delivered a record")
	}
	if err := stream.Err(); !storage.IsInternal(err) {
		t.Errorf("Err() = %v, want internal", err)
	}
}

func TestStreamSingleField(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectQuery("SELECT val, rel, state FROM node_records").
		WithArgs("n1", "name").
		WillReturnRows(sqlmock.NewRows([]string{"val", "rel", "state"}).AddRow("ada", nil, 7))

	stream, err := a.Stream(context.Background(), "n1", "name")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if !stream.Next(context.Background()) {
		t.Fatal("Next() = false, want one record")
	}
	if got := stream.Record(); got.ValOrEmpty() != "ada" {
		t.Errorf("Record() = %+v, want ada", got)
	}
	if stream.Next(context.Background()) {
		t.Fatal("Next() delivered a second record")
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newMockAdapter(db)

	mock.ExpectPing()
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = a.HealthCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database health check failed") {
		t.Errorf("HealthCheck() = %v, want wrapped failure", err)
	}
}

func TestClosePreventsSubsequentOperations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	mock.ExpectClose()

	a := newMockAdapter(db)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := a.Get(context.Background(), "n1", ""); !storage.IsInternal(err) {
		t.Errorf("Get() after Close = %v, want internal", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations: %v", err)
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	a := newMockAdapter(db)
	a.connected = false

	if _, err := a.Get(context.Background(), "n1", ""); !storage.IsInternal(err) {
		t.Errorf("Get() before Connect = %v, want internal", err)
	}
	if err := a.Put(context.Background(), record.Batch{record.Value("n1", "a", "1", 1)}); !storage.IsInternal(err) {
		t.Errorf("Put() before Connect = %v, want internal", err)
	}
}

func TestWithQueryTimeout_UsesConfigWhenNoDeadline(t *testing.T) {
	a := &PostgreSQLAdapter{config: Config{QueryTimeout: 2 * time.Second}}

	ctx, cancel := a.withQueryTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline from query timeout")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("unexpected remaining timeout: %v", remaining)
	}
}

func TestWithQueryTimeout_PreservesCallerDeadline(t *testing.T) {
	a := &PostgreSQLAdapter{config: Config{QueryTimeout: 2 * time.Second}}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.withQueryTimeout(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}

func TestWithQueryTimeout_ZeroTimeout(t *testing.T) {
	a := &PostgreSQLAdapter{config: Config{QueryTimeout: 0}}
	ctx, cancel := a.withQueryTimeout(context.Background())
	defer cancel()

	if _, ok := ctx.Deadline(); ok {
		t.Fatal("expected no deadline when query timeout is zero")
	}
}

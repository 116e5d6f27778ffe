// Package clickhouse inserts rows into a ClickHouse table with one native batch per event.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/model"
)

// DefaultTable is the table rows are inserted into.
const DefaultTable = "netdata_metrics"

// Config holds the ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
	Timeout  time.Duration
}

// rowBatch is the part of driver.Batch the sink uses.
type rowBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// conn is the part of driver.Conn the sink uses.
type conn interface {
	prepare(ctx context.Context, query string) (rowBatch, error)
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

type driverConn struct {
	driver.Conn
}

func (c driverConn) prepare(ctx context.Context, query string) (rowBatch, error) {
	b, err := c.PrepareBatch(ctx, query)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Sink is the columnar insert adapter. Every call is a single bulk insert:
// any failure fails the whole event.
type Sink struct {
	conn   conn
	table  string
	logger *zap.SugaredLogger
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Sink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: clickhouse address is not set", errs.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	c, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
		ReadTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return newSink(driverConn{c}, cfg.Table, logger), nil
}

func newSink(c conn, table string, logger *zap.SugaredLogger) *Sink {
	if table == "" {
		table = DefaultTable
	}
	return &Sink{conn: c, table: table, logger: logger}
}

func (s *Sink) Name() string { return "clickhouse" }

// Describe returns the configuration echoed by the health endpoint.
func (s *Sink) Describe() map[string]any {
	return map[string]any{"table": s.table}
}

// Migrate creates the target table if it does not exist yet.
func (s *Sink) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf(createTableDDL, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.logger.Infof("clickhouse table %s is ready", s.table)
	return nil
}

// Deliver inserts all rows in one batch.
func (s *Sink) Deliver(ctx context.Context, rows []model.Row) (model.DeliverySummary, error) {
	if len(rows) == 0 {
		return model.DeliverySummary{}, nil
	}

	batch, err := s.conn.prepare(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return model.DeliverySummary{}, fmt.Errorf("%w: prepare insert: %w", errs.ErrTransport, err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp.UTC().Truncate(time.Millisecond),
			r.Hostname,
			r.ChartID,
			r.ChartName,
			r.Dimension,
			r.Value,
			r.Units,
			r.Family,
			r.Context,
			r.ChartType,
		); err != nil {
			_ = batch.Abort()
			return model.DeliverySummary{}, fmt.Errorf("append row %s/%s: %w", r.ChartID, r.Dimension, err)
		}
	}
	if err := batch.Send(); err != nil {
		return model.DeliverySummary{}, fmt.Errorf("%w: send batch: %w", errs.ErrTransport, err)
	}
	return model.DeliverySummary{RecordsSent: len(rows)}, nil
}

// Ping checks the connection.
func (s *Sink) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

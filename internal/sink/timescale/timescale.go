// Package timescale inserts rows into a PostgreSQL/TimescaleDB table with COPY.
package timescale

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/model"
)

// DefaultTable is the table rows are copied into.
const DefaultTable = "netdata_metrics"

var columns = []string{
	"timestamp", "hostname", "chart_id", "chart_name", "dimension",
	"value", "units", "family", "context", "chart_type",
}

// copier is satisfied by *pgxpool.Pool.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Sink is the columnar insert adapter for PostgreSQL. One COPY per event;
// any failure fails the whole event.
type Sink struct {
	db     copier
	table  pgx.Identifier
	logger *zap.SugaredLogger
}

// Open creates a connection pool for dsn and verifies it.
func Open(ctx context.Context, dsn, table string, logger *zap.SugaredLogger) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: database DSN is not set", errs.ErrConfiguration)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return newSink(pool, table, logger), nil
}

func newSink(db copier, table string, logger *zap.SugaredLogger) *Sink {
	if table == "" {
		table = DefaultTable
	}
	return &Sink{db: db, table: pgx.Identifier(strings.Split(table, ".")), logger: logger}
}

func (s *Sink) Name() string { return "timescale" }

// Describe returns the configuration echoed by the health endpoint.
func (s *Sink) Describe() map[string]any {
	return map[string]any{"table": s.table.Sanitize()}
}

// Deliver copies all rows in one statement.
func (s *Sink) Deliver(ctx context.Context, rows []model.Row) (model.DeliverySummary, error) {
	if len(rows) == 0 {
		return model.DeliverySummary{}, nil
	}

	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{
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
		}, nil
	})

	n, err := s.db.CopyFrom(ctx, s.table, columns, src)
	if err != nil {
		return model.DeliverySummary{}, s.classify(err)
	}
	if int(n) != len(rows) {
		s.logger.Warnf("copy into %s: expected %d rows, copied %d", s.table.Sanitize(), len(rows), n)
	}
	return model.DeliverySummary{RecordsSent: int(n), RecordsFailed: len(rows) - int(n)}, nil
}

// Ping checks the connection pool.
func (s *Sink) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Sink) Close() error {
	s.db.Close()
	return nil
}

func (s *Sink) classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable:
			return fmt.Errorf("%w: table %s does not exist: %w", errs.ErrConfiguration, s.table.Sanitize(), err)
		case pgerrcode.UndefinedColumn, pgerrcode.DatatypeMismatch:
			return fmt.Errorf("%w: table %s does not match the row schema: %w", errs.ErrConfiguration, s.table.Sanitize(), err)
		}
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: copy into %s: %w", errs.ErrTransport, s.table.Sanitize(), err)
	}
	return fmt.Errorf("copy into %s: %w", s.table.Sanitize(), err)
}

func isConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.SQLClientUnableToEstablishSQLConnection,
			pgerrcode.SQLServerRejectedEstablishmentOfSQLConnection,
			pgerrcode.TooManyConnections,
			pgerrcode.AdminShutdown:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return os.IsTimeout(err)
}

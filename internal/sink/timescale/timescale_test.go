package timescale

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/model"
)

type fakeCopier struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
	err     error
	calls   int
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	f.calls++
	f.table, f.columns = table, cols
	if f.err != nil {
		return 0, f.err
	}
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, vals)
	}
	return int64(len(f.rows)), src.Err()
}

func (f *fakeCopier) Ping(context.Context) error { return nil }
func (f *fakeCopier) Close()                     {}

func TestDeliver_CopiesRows(t *testing.T) {
	fc := &fakeCopier{}
	s := newSink(fc, "metrics.raw", zap.NewNop().Sugar())

	ts := time.Date(2024, 3, 1, 12, 0, 0, 987654321, time.UTC)
	rows := []model.Row{
		{Timestamp: ts, Hostname: "h", ChartID: "c", Dimension: "a", Value: 1},
		{Timestamp: ts, Hostname: "h", ChartID: "c", Dimension: "b", Value: 2},
	}

	summary, err := s.Deliver(context.Background(), rows)

	require.NoError(t, err)
	require.Equal(t, 2, summary.RecordsSent)
	require.Equal(t, pgx.Identifier{"metrics", "raw"}, fc.table)
	require.Equal(t, columns, fc.columns)
	require.Len(t, fc.rows, 2)
	require.True(t, ts.Truncate(time.Millisecond).Equal(fc.rows[0][0].(time.Time)))
	require.Equal(t, "b", fc.rows[1][4])
	require.Equal(t, `"metrics"."raw"`, s.Describe()["table"])
}

func TestDeliver_EmptyIsNoop(t *testing.T) {
	fc := &fakeCopier{}
	summary, err := newSink(fc, "", zap.NewNop().Sugar()).Deliver(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, summary.RecordsSent)
	require.Zero(t, fc.calls)
}

func TestDeliver_ErrorClassification(t *testing.T) {
	rows := []model.Row{{Dimension: "a", Value: 1}}
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"undefined_table", &pgconn.PgError{Code: pgerrcode.UndefinedTable}, errs.ErrConfiguration},
		{"undefined_column", &pgconn.PgError{Code: pgerrcode.UndefinedColumn}, errs.ErrConfiguration},
		{"connection_failure", &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, errs.ErrTransport},
		{"net_error", &net.OpError{Op: "dial", Err: errors.New("refused")}, errs.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSink(&fakeCopier{err: tc.err}, "", zap.NewNop().Sugar())
			_, err := s.Deliver(context.Background(), rows)
			require.ErrorIs(t, err, tc.want)
		})
	}

	s := newSink(&fakeCopier{err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}}, "", zap.NewNop().Sugar())
	_, err := s.Deliver(context.Background(), rows)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrTransport)
	require.NotErrorIs(t, err, errs.ErrConfiguration)
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "", "", zap.NewNop().Sugar())
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

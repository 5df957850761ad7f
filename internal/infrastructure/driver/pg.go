package driver

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PGWrapper pgx pool
type PGWrapper struct {
	db *pgxpool.Pool
}

type pgResult struct {
	ct pgconn.CommandTag
}

type pgRows struct {
	rows pgx.Rows
}

var _ SQLDB = &PGWrapper{}

// NewPostgreSQLConn connect a postgres pool of at most maxConn connections
func NewPostgreSQLConn(dsn string, maxConn int32) (*PGWrapper, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConn > 0 {
		poolConfig.MaxConns = maxConn
	}
	conn, err := pgxpool.ConnectConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	return &PGWrapper{conn}, nil
}

func (r pgResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (r pgResult) RowsAffected() (int64, error) {
	return r.ct.RowsAffected(), nil
}

func (r pgRows) Next() bool {
	return r.rows.Next()
}

func (r pgRows) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

func (r pgRows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}

// Close close the whole pool
func (pw *PGWrapper) Close(ctx context.Context) error {
	pw.db.Close()
	return nil
}

func (pw *PGWrapper) Ping(ctx context.Context) error {
	conn, err := pw.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Conn().Ping(ctx)
}

func (pw *PGWrapper) Driver() string {
	return "postgres"
}

func (pw *PGWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	query = pgDialect(query)
	ct, err := pw.db.Exec(ctx, query, args...)
	logQuery(ctx, "Exec", query, args, start, err)
	return pgResult{ct}, err
}

func (pw *PGWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	start := time.Now()
	query = pgDialect(query)
	rows, err := pw.db.Query(ctx, query, args...)
	logQuery(ctx, "Query", query, args, start, err)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

func pgDialect(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

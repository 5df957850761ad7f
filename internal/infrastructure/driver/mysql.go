package driver

import (
	"context"
	"database/sql"
	"strings"
	"time"

	// mysql driver
	_ "github.com/go-sql-driver/mysql"
)

// SQLWrapper database/sql pool speaking the mysql dialect
type SQLWrapper struct {
	db     *sql.DB
	driver string
}

var _ SQLDB = &SQLWrapper{}

// NewMySQLConn open a mysql pool of at most maxConn connections
func NewMySQLConn(dsn string, maxConn int32) (*SQLWrapper, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(int(maxConn))
	return &SQLWrapper{conn, "mysql"}, nil
}

// WrapSQLDB wrap an opened *sql.DB, driver names the SQL dialect
func WrapSQLDB(db *sql.DB, driver string) *SQLWrapper {
	return &SQLWrapper{db, driver}
}

func (mw *SQLWrapper) Close(ctx context.Context) error {
	return mw.db.Close()
}

func (mw *SQLWrapper) Ping(ctx context.Context) error {
	return mw.db.PingContext(ctx)
}

func (mw *SQLWrapper) Driver() string {
	return mw.driver
}

func (mw *SQLWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	query = mysqlDialect(query)
	res, err := mw.db.ExecContext(ctx, query, args...)
	logQuery(ctx, "Exec", query, args, start, err)
	return res, err
}

func (mw *SQLWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	start := time.Now()
	query = mysqlDialect(query)
	rows, err := mw.db.QueryContext(ctx, query, args...)
	logQuery(ctx, "Query", query, args, start, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mysqlDialect rewrite $n placeholders and quoted identifiers for mysql
func mysqlDialect(query string) string {
	query = strings.ReplaceAll(query, `"`, "`")
	query = dollarPlaceholder.ReplaceAllString(query, "?")
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

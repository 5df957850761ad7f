package driver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/pot-code/course-player/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// Rows query result shared by the mysql and postgres connections
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
}

// SQLDB connection pool used by the sql snapshot store. Queries are written with
// postgres style $n placeholders and double quoted identifiers, the mysql
// connection rewrites them.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Driver() string
}

// DBConfig connection options
type DBConfig struct {
	Driver   string // mysql or postgres
	Host     string
	MaxConn  int32 // pool size
	Password string
	Port     int
	Protocol string // mysql only, eg.tcp
	Query    string // DSN query parameters
	Schema   string
	User     string
}

var (
	whitespace        = regexp.MustCompile(`\s+`)
	dollarPlaceholder = regexp.MustCompile(`\$[0-9]+`)
)

func dsnOf(cfg *DBConfig) string {
	var dsn string
	switch {
	case cfg.Driver == "postgres":
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Schema)
	case cfg.Protocol != "":
		dsn = fmt.Sprintf("%s:%s@%s(%s:%d)/%s", cfg.User, cfg.Password, cfg.Protocol, cfg.Host, cfg.Port, cfg.Schema)
	default:
		dsn = fmt.Sprintf("%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Schema)
	}
	if cfg.Query != "" {
		dsn += "?" + cfg.Query
	}
	return dsn
}

// GetDBConnection open the pool named by cfg.Driver
func GetDBConnection(cfg *DBConfig) (SQLDB, error) {
	switch cfg.Driver {
	case "mysql":
		conn, err := NewMySQLConn(dsnOf(cfg), cfg.MaxConn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "postgres":
		conn, err := NewPostgreSQLConn(dsnOf(cfg), cfg.MaxConn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
}

// redactArgs shortens long string and binary arguments before they are logged
func redactArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case []byte:
			if len(v) > 64 {
				a = fmt.Sprintf("%x (truncated %d bytes)", v[:64], len(v)-64)
			} else {
				a = hex.EncodeToString(v)
			}
		case string:
			if len(v) > 64 {
				a = fmt.Sprintf("%s (truncated %d bytes)", v[:64], len(v)-64)
			}
		}
		out[i] = a
	}
	return out
}

// logQuery log a finished statement with the request logger bound to ctx,
// cancelled statements are not errors worth reporting
func logQuery(ctx context.Context, method, query string, args []interface{}, start time.Time, err error) {
	logger := logging.ExtractLoggerFromContext(ctx)
	fields := []zap.Field{
		zap.String("db.method", method),
		zap.String("db.statement", query),
		zap.Any("db.args", redactArgs(args)),
		zap.Duration("event.duration", time.Since(start)),
	}
	switch {
	case err == nil:
		logger.Debug("SQL statement executed", fields...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("SQL statement cancelled", fields...)
	default:
		logger.Error("SQL statement failed", append(fields, zap.Error(err))...)
	}
}

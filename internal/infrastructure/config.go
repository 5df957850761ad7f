package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "COURSEPLAYER"

// EnvDevelopment development runtime environment
const EnvDevelopment = "development"

// snapshot store backends
const (
	SnapshotStoreKV  = "kv"
	SnapshotStoreSQL = "sql"
)

// AppConfig App option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port"`                                      // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins" json:"cors_origins" yaml:"cors_origins"` // origins allowed to send credentials
	Backend        struct {
		BaseURL string        `mapstructure:"base_url" json:"base_url" yaml:"base_url" validate:"required,url"` // course REST API root
		PageURL string        `mapstructure:"page_url" json:"page_url" yaml:"page_url"`                         // course page url, a media url equal to it is a placeholder
		Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	} `mapstructure:"backend" json:"backend" yaml:"backend"`
	Player struct {
		FlushInterval   time.Duration `mapstructure:"flush_interval" json:"flush_interval" yaml:"flush_interval" validate:"min=0"` // minimum gap between background flushes
		FlushBurst      int           `mapstructure:"flush_burst" json:"flush_burst" yaml:"flush_burst" validate:"min=1"`
		FlushTimeout    time.Duration `mapstructure:"flush_timeout" json:"flush_timeout" yaml:"flush_timeout"`
		MaxRetries      int           `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries" validate:"min=0"`
		CheckoutTimeout time.Duration `mapstructure:"checkout_timeout" json:"checkout_timeout" yaml:"checkout_timeout"`
		SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl" json:"snapshot_ttl" yaml:"snapshot_ttl"`
		SnapshotStore   string        `mapstructure:"snapshot_store" json:"snapshot_store" yaml:"snapshot_store" validate:"oneof=kv sql"`
	} `mapstructure:"player" json:"player" yaml:"player"`
	Database struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver"`                                          // driver name
		Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`                                       // sql snapshot store needs it
		Host     string `mapstructure:"host" json:"host" yaml:"host"`                                                // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn"`                                       // maximum opening connections number
		Password string `mapstructure:"password" json:"password" yaml:"password"`                                    // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"` // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                             // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema"`                                          // use schema
		User     string `mapstructure:"username" json:"username" yaml:"username"`                                    // db username
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength  int           `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of generated view and session ids
		JWTMethod string        `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512"`
		JWTSecret string        `mapstructure:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret" validate:"required"`
		TokenName string        `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"` // jwt token name set in cookie
		TokenTTL  time.Duration `mapstructure:"token_ttl" json:"token_ttl" yaml:"token_ttl"`
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore struct {
		Host     string `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port     int    `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
		Password string `mapstructure:"password" json:"password" yaml:"password"`
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// InitConfig init app config using viper
func InitConfig() (*AppConfig, error) {
	// app
	pflag.String("host", "", "binding address")
	pflag.String("app_id", "", "application identifier (required)")
	pflag.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	pflag.Int("port", 8081, "listening port")
	pflag.Duration("request_timeout", 30*time.Second, "abort requests running longer than this")
	pflag.StringSlice("cors_origins", []string{"http://127.0.0.1:8080"}, "origins allowed by CORS, comma separated")

	// backend
	pflag.String("backend.base_url", "", "course REST API root, eg.https://api.example.com/api/v1/ (required)")
	pflag.String("backend.page_url", "", "public course page url, media urls pointing at it are placeholders")
	pflag.Duration("backend.timeout", 10*time.Second, "timeout of a single backend call")

	// player
	pflag.Duration("player.flush_interval", 10*time.Second, "minimum gap between background progress flushes")
	pflag.Int("player.flush_burst", 1, "background flushes allowed back to back")
	pflag.Duration("player.flush_timeout", 5*time.Second, "timeout of one progress flush")
	pflag.Int("player.max_retries", 3, "manual retries after a media error")
	pflag.Duration("player.checkout_timeout", 15*time.Second, "timeout of checkout session creation")
	pflag.Duration("player.snapshot_ttl", 7*24*time.Hour, "lifetime of the local progress snapshot")
	pflag.String("player.snapshot_store", SnapshotStoreKV, "where local progress snapshots live, 'kv' or 'sql'")

	// database
	pflag.Bool("database.enabled", false, "connect to the database, required by the sql snapshot store")
	pflag.String("database.driver", "mysql", "database driver to use")
	pflag.String("database.host", "127.0.0.1", "database host")
	pflag.Int("database.port", 3306, "database server port")
	pflag.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	pflag.String("database.username", "", "database username")
	pflag.String("database.password", "", "database password")
	pflag.String("database.schema", "", "database schema")
	pflag.String("database.query", "", `additional DSN query parameters('?' is auto prefixed), if you work with mysql and wish to
work with time.Time, you may specify "parseTime=true"`)
	pflag.Int32("database.maxconn", 20, "max connection count")

	// logging
	pflag.String("logging.level", "info", "logging level")
	pflag.String("logging.file_path", "", "log to file")

	// security
	pflag.Int("security.id_length", 21, "set length of generated view and session ids")
	pflag.String("security.jwt_method", "HS256", "hash algorithm used for JWT auth")
	pflag.String("security.jwt_secret", "", "JWT secret (required)")
	pflag.String("security.token_name", "", "cookie name to store the token (required)")
	pflag.Duration("security.token_ttl", 30*time.Minute, "lifetime of tokens signed by this service")

	// kv storage
	pflag.String("kv.host", "127.0.0.1", "kv host")
	pflag.Int("kv.port", 6379, "kv server port")
	pflag.String("kv.password", "", "kv server password")

	// DevOp
	pflag.Bool("devop.apm", false, "enable apm metrics")

	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config = new(AppConfig)
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	err := validate.Struct(config)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	if err == nil {
		return validateDatabase(config)
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		case "url":
			msg = append(msg, fmt.Sprintf("%s must be a valid url", fieldName))
		}
	}
	if len(msg) > 0 {
		return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
	}
	return nil
}

func validateDatabase(config *AppConfig) error {
	db := config.Database
	if config.Player.SnapshotStore == SnapshotStoreSQL && !db.Enabled {
		return fmt.Errorf("failed to validate config: \nplayer.snapshot_store=sql requires database.enabled")
	}
	if !db.Enabled {
		return nil
	}
	var msg []string
	for name, value := range map[string]string{
		"database.driver":   db.Driver,
		"database.schema":   db.Schema,
		"database.username": db.User,
	} {
		if value == "" {
			msg = append(msg, fmt.Sprintf("%s is required", name))
		}
	}
	if len(msg) > 0 {
		sort.Strings(msg)
		return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pot-code/course-player/internal/course"
	"github.com/pot-code/course-player/internal/domain"
	infra "github.com/pot-code/course-player/internal/infrastructure"
	"github.com/pot-code/course-player/internal/infrastructure/backend"
	"github.com/pot-code/course-player/internal/infrastructure/driver"
	"github.com/pot-code/course-player/internal/infrastructure/logging"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"github.com/pot-code/course-player/internal/interfaces/rest"
	"github.com/pot-code/course-player/internal/progress"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	logger = logger.With(
		zap.String("service.id", option.AppID),
	)
	defer logger.Sync()

	probes := make(map[string]rest.Pinger)

	rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
	defer rdb.Close()
	probes["kv"] = rdb
	logger.Debug("Create redis client instance",
		zap.String("kv.host", option.KVStore.Host),
		zap.Int("kv.port", option.KVStore.Port),
	)

	var snapshots domain.ProgressSnapshotRepository = progress.NewSnapshotKV(rdb, option.Player.SnapshotTTL)
	if option.Database.Enabled {
		dbConn, err := driver.GetDBConnection(&driver.DBConfig{
			User:     option.Database.User,
			Password: option.Database.Password,
			MaxConn:  option.Database.MaxConn,
			Protocol: option.Database.Protocol,
			Driver:   option.Database.Driver,
			Host:     option.Database.Host,
			Port:     option.Database.Port,
			Query:    option.Database.Query,
			Schema:   option.Database.Schema,
		})
		if err != nil {
			logger.Fatal("Failed to create DB connection", zap.Error(err))
		}
		defer dbConn.Close(context.Background())
		probes["db"] = dbConn
		logger.Debug("Create DB connection instance",
			zap.String("db.driver", option.Database.Driver),
			zap.String("db.schema", option.Database.Schema),
			zap.String("db.host", option.Database.Host),
		)
		if option.Player.SnapshotStore == infra.SnapshotStoreSQL {
			snapshots = progress.NewSnapshotSQL(dbConn)
		}
	}

	client := backend.NewClient(&backend.Config{
		BaseURL: option.Backend.BaseURL,
		PageURL: option.Backend.PageURL,
		Timeout: option.Backend.Timeout,
	}, logger)

	idGen := uuid.NewNanoIDGenerator(option.Security.IDLength, "")
	hub := notify.NewHub(idGen, logger)
	registry := course.NewRegistry(&course.Dependencies{
		Videos:    client,
		Purchases: client,
		Progress:  client,
		Checkout:  client,
		Snapshots: snapshots,
		Hub:       hub,
		IDGen:     idGen,
		Logger:    logger,
	}, &course.Settings{
		FlushInterval:   option.Player.FlushInterval,
		FlushBurst:      option.Player.FlushBurst,
		FlushTimeout:    option.Player.FlushTimeout,
		CheckoutTimeout: option.Player.CheckoutTimeout,
		MaxRetries:      option.Player.MaxRetries,
	})

	server := rest.NewServer(option, registry, hub,
		func(ctx context.Context, token string) (bool, error) {
			return rdb.Exists(ctx, revokedTokenKey(token))
		},
		probes, logger)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errc:
		if err != nil {
			logger.Error("Server stopped unexpectedly", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", zap.Error(err))
	}
	// last flush of every open view
	if err := registry.Close(ctx); err != nil {
		logger.Warn("Failed to flush views on shutdown", zap.Error(err))
	}
}

func revokedTokenKey(token string) string {
	return "course-player:revoked:" + token
}

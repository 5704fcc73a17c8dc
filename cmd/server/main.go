// Package main - Rulekeeper API server entry point
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"rulekeeper/internal/adapters/handler"
	"rulekeeper/internal/adapters/repository"
	ws "rulekeeper/internal/adapters/websocket"
	"rulekeeper/internal/config"
	"rulekeeper/internal/core/services"
)

func main() {
	// 1. Load Configuration from Environment
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Log hub first so every subsequent log line reaches admins too
	logHub := ws.NewLogHub(cfg.App.MeshSecret)
	go logHub.Run()

	logger := slog.New(slog.NewTextHandler(
		io.MultiWriter(os.Stdout, logHub),
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))
	slog.SetDefault(logger)

	slog.Info("Starting rulekeeper",
		"port", cfg.App.Port,
		"install_path", cfg.Manager.InstallPath,
		"api_version", cfg.App.APIVersion,
	)

	// 3. Connect to MySQL with Retry Logic
	// Containers may not be ready immediately, so we retry
	db := connectMySQL(cfg.DB, 5, 2*time.Second)
	defer db.Close()
	slog.Info("MySQL connection established", "host", cfg.DB.Host)

	// 4. Connect to Redis with Retry Logic
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()
	slog.Info("Redis connection established", "addr", cfg.Redis.Addr)

	// 5. Repositories, services, handlers
	auditRepo := repository.NewMySQLRepository(db)
	cacheRepo := repository.NewRedisRepository(rdb)

	ruleStore := services.NewRuleStore(cfg.Manager, cacheRepo, cfg.Audit.CacheTTL)

	sender := handler.NewSender(logger, auditRepo, cfg.App.APIVersion, cfg.App.PrettyJSON)
	managerHandler := handler.NewManagerHandler(sender, cfg.Manager.InstallPath)
	rulesHandler := handler.NewRulesHandler(ruleStore, sender, cfg.Manager)

	// 6. Audit retention watchdog
	services.RunWatchdog(auditRepo, cfg.Audit.RetentionDays)

	// 7. Start HTTP Server
	router := handler.SetupRoutes(managerHandler, rulesHandler, cfg.App.APIVersion, logHub.ServeWS)

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	slog.Info("HTTP server listening", "addr", addr)

	if err := http.ListenAndServe(addr, router); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// connectMySQL attempts to connect to MySQL with retry logic
func connectMySQL(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			slog.Warn("Failed to configure DB driver", "attempt", i, "max", maxRetries, "error", err)
			time.Sleep(retryDelay)
			continue
		}

		// Test the connection with Ping
		err = db.Ping()
		if err == nil {
			return db
		}

		slog.Warn("Cannot ping MySQL", "attempt", i, "max", maxRetries, "error", err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	slog.Error("Cannot connect to MySQL, giving up", "attempts", maxRetries, "error", err)
	os.Exit(1)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		slog.Warn("Cannot ping Redis", "attempt", i, "max", maxRetries, "error", err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	slog.Error("Cannot connect to Redis, giving up", "attempts", maxRetries, "error", err)
	os.Exit(1)
	return nil // unreachable
}

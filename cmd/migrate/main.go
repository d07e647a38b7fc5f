// migrate applies the embedded SQL migrations: go run ./cmd/migrate [-direction up|down].
package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"inclusion-platform/backend/internal/config"
	"inclusion-platform/backend/internal/db/migrate"
	"inclusion-platform/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "up applies pending migrations, down rolls all of them back")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, Output: "stdout"})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// Run treats "no change" as success.
	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		zlog.Fatal("migrate", zap.String("direction", *direction), zap.Error(err))
	}
	zlog.Info("migrations applied", zap.String("direction", *direction))
}

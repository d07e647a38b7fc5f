// orgctl is the back-office CLI for organizations: create, import from CSV, list and deactivate.
package main

import (
	"fmt"
	"os"

	"inclusion-platform/backend/internal/audit"
	auditrepo "inclusion-platform/backend/internal/audit/repository"
	"inclusion-platform/backend/internal/config"
	"inclusion-platform/backend/internal/db"
	"inclusion-platform/backend/internal/logger"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
	"inclusion-platform/backend/internal/organization/service"
)

func main() {
	root := newRootCmd(openService)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openService connects to DATABASE_URL and returns the organization service with its cleanup.
func openService() (*service.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Output: "stdout"})
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	svc := service.NewService(orgrepo.NewPostgresRepository(conn),
		audit.NewLogger(auditrepo.NewPostgresRepository(conn), nil, log), log)
	return svc, func() {
		_ = conn.Close()
		_ = log.Sync()
	}, nil
}

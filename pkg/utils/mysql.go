package utils

import (
	"context"
	"database/sql"

	"marketplace/internal/config"
	"marketplace/pkg/logger"
)

func InitializeMySQL(ctx context.Context, cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	// Test MySQL connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Connected to MySQL")
	return db, nil
}

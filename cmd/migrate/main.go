package main

import (
	"context"
	"os"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/migrations"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().WithError(err).Fatal("load config")
	}

	logger := logging.New(cfg.App)

	if len(os.Args) < 2 {
		logger.Fatal("usage: migrate [up|down]")
	}
	direction := os.Args[1]

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	applied, err := migrations.Run(ctx, db, direction)
	for _, name := range applied {
		logger.WithField("file", name).Info("migration applied")
	}
	if err != nil {
		logger.WithError(err).Fatal("run migrations")
	}

	logger.WithFields(log.Fields{
		"count":     len(applied),
		"direction": direction,
	}).Info("migrations complete")
}

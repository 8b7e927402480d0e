package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/storefront/internal/api"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

const sessionPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().WithError(err).Fatal("load config")
	}

	logger := logging.New(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	logger.Info("connected to database")

	accounts := auth.NewService(db, cfg.Auth, logger)
	if cfg.Auth.AdminEmail != "" {
		if _, err := accounts.BootstrapAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			logger.WithError(err).Fatal("bootstrap admin")
		}
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Rabbit.URL != "" {
		rabbit, err := events.NewRabbit(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			logger.WithError(err).Fatal("connect to rabbitmq")
		}
		defer rabbit.Close()

		publisher = events.NewBreakerPublisher(rabbit, events.DefaultBreakerSettings("rabbitmq"), logger)
		logger.WithField("exchange", cfg.Rabbit.Exchange).Info("publishing order events")
	} else {
		logger.Warn("RABBIT_URL not set, order events are not published")
	}

	server := api.NewServer(api.Deps{
		DB:         db,
		Accounts:   accounts,
		Orders:     orders.NewService(orders.NewPostgresRepository(db), publisher, logger),
		Logger:     logger,
		Production: cfg.IsProduction(),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go purgeSessions(ctx, accounts, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"port": cfg.Server.Port,
			"env":  cfg.App.Env,
		}).Info("server starting")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.WithError(err).Error("server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func purgeSessions(ctx context.Context, accounts *auth.Service, logger log.FieldLogger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := accounts.PurgeExpired(ctx)
			if err != nil {
				logger.WithError(err).Warn("purge expired sessions")
				continue
			}
			if n > 0 {
				logger.WithField("count", n).Info("expired sessions purged")
			}
		}
	}
}

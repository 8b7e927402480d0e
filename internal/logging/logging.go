package logging

import (
	"os"

	"github.com/safar/storefront/internal/config"
	log "github.com/sirupsen/logrus"
)

// New builds the process logger. Production and LOG_FORMAT=json get the
// JSON formatter; an unparsable LOG_LEVEL falls back to info.
func New(cfg config.AppConfig) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	if cfg.Env == config.EnvProduction || cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// Default is used before configuration has been loaded.
func Default() *log.Logger {
	return New(config.AppConfig{Env: config.EnvDevelopment, LogLevel: "info"})
}

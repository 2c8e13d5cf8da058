package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(logger *log.Logger, cfg app.Config) error {
	switch cfg.LogFormat {
	case app.LogFormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		return err
	}
	logger.SetLevel(level)
	return nil
}

func main() {
	cfg, warnings, err := app.LoadConfig()
	if setupErr := setupLogger(log.StandardLogger(), cfg); setupErr != nil {
		log.WithError(setupErr).Warn("invalid log level, using info")
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.Current()
	log.WithFields(log.Fields{
		"version":        build.Version,
		"commit":         build.Commit,
		"build_date":     build.Date,
		"go_version":     build.GoVersion,
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}

// Command omsctl — административные операции над сервисом заказов.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// newRootCmd собирает дерево команд. cfg задаёт значения флагов по умолчанию.
func newRootCmd(cfg app.Config, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "omsctl",
		Short:         "Administrative tool for the storefront order service",
		Version:       version.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(
		newMigrateCmd(cfg),
		newReconcileCmd(cfg),
		newLoadtestCmd(cfg),
		newEventsCmd(cfg),
	)
	return root
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	// Ошибки валидации не критичны: конфигурация нужна только для значений по умолчанию.
	cfg, _, _ := app.LoadConfig()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg, os.Stdout).ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("omsctl failed")
		stop()
		os.Exit(1)
	}
}

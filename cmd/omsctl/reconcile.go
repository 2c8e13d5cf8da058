package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/remote"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

type reconcileOptions struct {
	dsn         string
	productsURL string
	grace       time.Duration
	batchSize   int
	autoRelease bool
	callTimeout time.Duration
}

// reconcileDeps — журнал резервов, заказы и outbox для одного прохода сверки.
type reconcileDeps struct {
	ledger domain.ReservationLedger
	orders domain.OrderStore
	outbox domain.OutboxRepository
	close  func()
}

var openReconcileDeps = func(ctx context.Context, opts reconcileOptions) (reconcileDeps, error) {
	if strings.TrimSpace(opts.dsn) == "" {
		return reconcileDeps{}, errors.New("postgres dsn is required (--dsn or OMS_POSTGRES_DSN)")
	}
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return reconcileDeps{}, fmt.Errorf("open postgres store: %w", err)
	}

	deps := reconcileDeps{
		orders: postgres.NewOrderRepository(store),
		outbox: postgres.NewOutboxRepository(store),
		close:  func() { _ = store.Close() },
	}
	if opts.productsURL != "" {
		ledger, err := remote.NewProductCatalog(opts.productsURL, remote.WithHTTPClient(&http.Client{Timeout: opts.callTimeout}))
		if err != nil {
			deps.close()
			return reconcileDeps{}, err
		}
		deps.ledger = ledger
	} else {
		deps.ledger = catalog.NewService(postgres.NewProductRepository(store))
	}
	return deps, nil
}

func newReconcileCmd(cfg app.Config) *cobra.Command {
	opts := reconcileOptions{
		dsn:         cfg.PostgresDSN,
		productsURL: cfg.ProductsServiceURL,
		grace:       cfg.ReconcileGracePeriod,
		batchSize:   cfg.ReconcileBatchSize,
		autoRelease: cfg.ReconcileAutoRelease,
		callTimeout: cfg.CallTimeout,
	}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reservation reconciliation sweep",
		Long: "Matches reserved stock against persisted orders: reservations with an order are committed,\n" +
			"reservations without one are reported as orphans and released only with --auto-release.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, err := openReconcileDeps(ctx, opts)
			if err != nil {
				return err
			}
			if deps.close != nil {
				defer deps.close()
			}

			r := reconcile.NewReconciler(deps.ledger, deps.orders,
				reconcile.WithLogger(log.WithField("component", "omsctl-reconcile")),
				reconcile.WithGracePeriod(opts.grace),
				reconcile.WithBatchSize(opts.batchSize),
				reconcile.WithAutoRelease(opts.autoRelease),
				reconcile.WithOutbox(deps.outbox),
			)
			report, err := r.SweepOnce(ctx)
			if err != nil {
				return fmt.Errorf("reconcile sweep: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"scanned=%d committed=%d orphaned=%d released=%d errors=%d\n",
				report.Scanned, report.Committed, report.Orphaned, report.Released, report.Errors)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.dsn, "dsn", opts.dsn, "PostgreSQL DSN of the order store")
	cmd.Flags().StringVar(&opts.productsURL, "products-url", opts.productsURL, "base URL of a remote product catalog (default: local ledger in the same database)")
	cmd.Flags().DurationVar(&opts.grace, "grace", opts.grace, "skip reservations younger than this")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", opts.batchSize, "maximum reservations per sweep")
	cmd.Flags().BoolVar(&opts.autoRelease, "auto-release", opts.autoRelease, "release stock held by orphaned reservations")
	return cmd
}

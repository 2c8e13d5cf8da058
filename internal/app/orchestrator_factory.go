package app

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/remote"
)

// collaborators — справочник пользователей и каталог, которыми пользуется оркестратор.
type collaborators struct {
	users   domain.UserDirectory
	catalog domain.ProductCatalog
	ledger  domain.ReservationLedger
}

// newCollaborators выбирает локальные сервисы или HTTP-клиентов к другим экземплярам.
func newCollaborators(cfg Config, users domain.UserDirectory, products *catalog.Service, logger *log.Entry) (collaborators, error) {
	c := collaborators{users: users, catalog: products, ledger: products}
	httpClient := &http.Client{Timeout: cfg.CallTimeout}

	if cfg.UsersServiceURL != "" {
		dir, err := remote.NewUserDirectory(cfg.UsersServiceURL,
			remote.WithHTTPClient(httpClient),
			remote.WithLogger(logger.WithField("collaborator", "users")),
		)
		if err != nil {
			return collaborators{}, err
		}
		c.users = dir
		logger.WithField("url", cfg.UsersServiceURL).Info("using remote user directory")
	}

	if cfg.ProductsServiceURL != "" {
		cat, err := remote.NewProductCatalog(cfg.ProductsServiceURL,
			remote.WithHTTPClient(httpClient),
			remote.WithLogger(logger.WithField("collaborator", "products")),
		)
		if err != nil {
			return collaborators{}, err
		}
		c.catalog = cat
		c.ledger = cat
		logger.WithField("url", cfg.ProductsServiceURL).Info("using remote product catalog")
	}
	return c, nil
}

// orchestratorConfig переводит настройки запуска в параметры оркестратора.
func orchestratorConfig(cfg Config) ordering.Config {
	oc := ordering.DefaultConfig()
	oc.CallTimeout = cfg.CallTimeout
	oc.LookupRetry.MaxAttempts = cfg.LookupRetryAttempts
	oc.LookupRetry.InitialDelay = cfg.LookupRetryDelay
	oc.LookupRetry.MaxDelay = cfg.LookupRetryMaxDelay
	oc.BreakerMaxFailures = cfg.BreakerMaxFailures
	oc.BreakerResetTimeout = cfg.BreakerResetTimeout
	return oc
}

// createOrchestrator собирает оркестратор заказов.
func createOrchestrator(
	cfg Config,
	collab collaborators,
	deps *runtimeDependencies,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) *ordering.Orchestrator {
	return ordering.NewOrchestrator(
		collab.users,
		collab.catalog,
		deps.orders,
		ordering.WithConfig(orchestratorConfig(cfg)),
		ordering.WithLogger(logger.WithField("component", "order-orchestrator")),
		ordering.WithOutbox(deps.outboxRepo),
		ordering.WithTimeline(deps.timelineRepo),
		ordering.WithMetrics(orderMetrics),
	)
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	inventorycontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps map[string]controllers.Pinger,
	ordersSvc orders.Service,
	inventorySvc inventory.Service,
	saga *metrics.SagaMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Place(ordersSvc, logg, saga))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderNumber}", ordercontrollers.Detail(ordersSvc, logg))
		})
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", inventorycontrollers.List(inventorySvc, logg))
			r.Get("/{skuCode}", inventorycontrollers.Detail(inventorySvc, logg))
		})
	})

	return r
}

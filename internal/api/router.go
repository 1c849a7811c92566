package api

import (
	"log/slog"
	"med-delivery-routing/internal/api/handlers"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/services"
	"net/http"
	"time"
)

// planOverhead covers distance lookups, merging and encoding around the solver run.
const planOverhead = 2 * time.Minute

// WriteTimeout is the server write deadline that lets the slowest accepted planning
// request finish: the largest solver budget, the solver's kill grace and planOverhead.
func WriteTimeout(solverGrace time.Duration) time.Duration {
	return services.MaxSolverBudget + solverGrace + planOverhead
}

// Deps are the collaborators of the HTTP layer. Handlers stay unaware of concrete adapters.
type Deps struct {
	Planner  handlers.RoutePlanning
	Monitor  handlers.StabilityService
	DB       handlers.Pinger
	Defaults handlers.RouteDefaults
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
func NewRouter(d Deps) http.Handler {
	logger := logging.OrDiscard(d.Logger)
	mux := http.NewServeMux()

	ready := &handlers.ReadyHandler{DB: d.DB, Logger: logger}
	routes := &handlers.RouteHandler{Planner: d.Planner, Defaults: d.Defaults, Logger: logger}
	stability := &handlers.StabilityHandler{Monitor: d.Monitor, Logger: logger}

	mux.HandleFunc("/health", handlers.Health)
	mux.HandleFunc("/ready", ready.Ready)
	mux.Handle("/metrics", d.Metrics.Handler())

	mux.HandleFunc("/routes/hospital", routes.Hospital)
	mux.HandleFunc("/routes/driver", routes.Driver)
	mux.HandleFunc("/driver/today-orders", routes.TodayOrders)
	// Paths kept for existing clients.
	mux.HandleFunc("/hgs", routes.Hospital)
	mux.HandleFunc("/driver/hgs", routes.Driver)

	mux.HandleFunc("/stability/start", stability.Start)
	mux.HandleFunc("/stability/update", stability.Update)
	mux.HandleFunc("/stability/stop", stability.Stop)
	mux.HandleFunc("/stability/state", stability.State)
	mux.HandleFunc("/stability/config", stability.Config)
	mux.HandleFunc("/stability/config/{order_id}", stability.Config)

	return requestIDMiddleware(loggingMiddleware(logger, d.Metrics, mux))
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"med-delivery-routing/internal/adapters/alerts"
	"med-delivery-routing/internal/adapters/distance"
	"med-delivery-routing/internal/adapters/repositories"
	"med-delivery-routing/internal/adapters/solver"
	"med-delivery-routing/internal/adapters/statestore"
	"med-delivery-routing/internal/api"
	"med-delivery-routing/internal/api/handlers"
	"med-delivery-routing/internal/config"
	"med-delivery-routing/internal/platform/db"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/ports"
	"med-delivery-routing/internal/services"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

// main is the application composition root.
// It wires concrete adapters (Postgres, OSRM, solver, state store, alerts) behind ports and starts the HTTP server.
func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, ServiceName: "med-delivery-routing"})
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file found (using environment variables)")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}

	m := metrics.New()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	travel, err := newTravelSource(cfg, logger, m)
	if err != nil {
		return err
	}

	routeSolver, err := newSolver(cfg, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := newStateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	publisher, closePublisher, err := newAlertPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher.Close()

	stops := repositories.NewPostgresStopRepository(conn)
	stability := repositories.NewPostgresStabilityRepository(conn)

	planner := services.NewRoutePlanner(stops, routeSolver, travel, services.PlannerConfig{
		VehicleCount:    cfg.VehicleCount,
		VehicleCapacity: cfg.VehicleCapacity,
		ShiftLimit:      cfg.ShiftLimit,
		SolverBudget:    cfg.SolverRuntime,
		MergeMaxPasses:  cfg.MergeMaxPasses,
		Geo: services.GeoOptions{
			EdgeTimeout:      cfg.OSRMTimeout,
			FallbackSpeedMPS: cfg.FallbackSpeedMPS,
		},
	}, logger, m)

	monitor := services.NewStabilityMonitor(store, stability, stability, publisher,
		services.StabilityOptions{FridgeMaxC: cfg.FridgeMaxC}, logger, m)

	router := api.NewRouter(api.Deps{
		Planner: planner,
		Monitor: monitor,
		DB:      conn,
		Defaults: handlers.RouteDefaults{
			HospitalID: cfg.DefaultHospitalID,
			Runtime:    cfg.SolverRuntime,
			Vehicles:   cfg.VehicleCount,
			Capacity:   cfg.VehicleCapacity,
		},
		Metrics: m,
		Logger:  logger,
	})

	// The write deadline must outlast the largest solver budget a request may ask for.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      api.WriteTimeout(solver.DefaultGrace),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newTravelSource returns the OSRM client, or a source that always fails when OSRM is
// disabled so every edge takes the straight-line fallback.
func newTravelSource(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (ports.TravelTimeSource, error) {
	if cfg.OSRMBaseURL == "" || strings.EqualFold(cfg.OSRMBaseURL, "off") {
		logger.Warn("OSRM disabled; travel times use the straight-line estimate")
		return distance.NewStaticSource(nil), nil
	}
	return distance.NewOSRMClient(distance.OSRMOptions{
		BaseURL: cfg.OSRMBaseURL,
		Profile: cfg.OSRMProfile,
		Retries: cfg.OSRMRetries,
	}, logger, m)
}

func newSolver(cfg config.Config, logger *slog.Logger) (ports.Solver, error) {
	if cfg.SolverBinary == "" {
		logger.Warn("SOLVER_BINARY not set; using the greedy solver")
		return solver.GreedySolver{}, nil
	}
	return solver.NewHGSExecSolver(cfg.SolverBinary, solver.DefaultGrace, logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newStateStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.StabilityStore, io.Closer, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set; stability state is kept in memory")
		return statestore.NewMemoryStore(), nopCloser{}, nil
	}
	client, err := statestore.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return statestore.NewRedisStore(client, statestore.DefaultKeyPrefix, statestore.DefaultTTL), client, nil
}

func newAlertPublisher(cfg config.Config, logger *slog.Logger) (ports.AlertPublisher, io.Closer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return alerts.NewLogPublisher(logger), nopCloser{}, nil
	}
	p, err := alerts.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
	if err != nil {
		return nil, nil, err
	}
	return p, p, nil
}

// cmd/conference-lock-service/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/avivl/conference-lock/internal/auth"
	"github.com/avivl/conference-lock/internal/conference"
	"github.com/avivl/conference-lock/internal/config"
	"github.com/avivl/conference-lock/internal/database"
	"github.com/avivl/conference-lock/internal/events"
	"github.com/avivl/conference-lock/internal/lockservice"
	"github.com/avivl/conference-lock/internal/observability"
	"github.com/avivl/conference-lock/internal/server"
	"github.com/avivl/conference-lock/internal/store"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "github.com/avivl/conference-lock/internal/store/dynamodb"
	_ "github.com/avivl/conference-lock/internal/store/memory"
	_ "github.com/avivl/conference-lock/internal/store/postgres"
	_ "github.com/avivl/conference-lock/internal/store/redis"
	_ "github.com/avivl/conference-lock/internal/store/scylladb"
)

// App represents the application state
type App struct {
	logger       *observability.SLogger
	configLoader *config.ConfigLoader
	otelShutdown func()
	lockStore    store.LockStore
	locks        *lockservice.Service
	sweeper      *lockservice.Sweeper
	notifier     *events.Notifier
	publishers   []events.Publisher
	db           *gorm.DB
	httpServer   *server.Server
	backendType  string
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		app.logger.Errorf("Application error: %v", err)
		app.Shutdown()
		os.Exit(1)
	}
	app.Shutdown()
}

// NewApp wires every component from the configuration at configPath.
// On error the components built so far are released.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	app := &App{}
	if err := app.init(ctx, configPath); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, configPath string) error {
	backendType, err := config.DetectBackendType(configPath)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return fmt.Errorf("failed to detect backend type: %w", err)
	}

	loader, cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.configLoader = loader
	if backendType == "" {
		backendType = cfg.Backend.Type
	}
	a.backendType = backendType

	logger, err := observability.NewLogger(cfg.Logger.Level.GetZapLevel())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	loader.SetLogger(logger)

	otelShutdown, err := observability.InitProvider(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.otelShutdown = otelShutdown

	metrics, metricsHandler, err := newMetrics(cfg.Observability, logger)
	if err != nil {
		return err
	}

	storeConfig, err := cfg.StoreConfig()
	if err != nil {
		return err
	}
	lockStore, err := lockservice.NewStore(ctx, backendType, storeConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", backendType, err)
	}
	a.lockStore = lockStore

	var hub *events.Hub
	if cfg.Events.Enabled(config.DriverWebSocket) {
		hub = events.NewHub(logger, events.WithAllowedOrigins(cfg.Events.AllowedOrigins...))
	}
	publishers, err := newPublishers(cfg.Events, hub)
	if err != nil {
		return err
	}
	a.publishers = publishers
	a.notifier = events.NewNotifier(logger, publishers,
		events.WithQueueSize(cfg.Events.QueueSize),
		events.WithNotifierMetrics(metrics),
	)

	a.locks = lockservice.New(lockStore, cfg.Lock.Timeout(), logger,
		lockservice.WithMetrics(metrics),
		lockservice.WithCallbacks(a.notifier),
	)
	a.sweeper = lockservice.NewSweeper(a.locks, cfg.Lock.CleanupInterval, logger)

	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open conference database: %w", err)
	}
	a.db = db
	conferences := conference.NewGormRepository(db, logger)
	if err := conferences.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate conference database: %w", err)
	}

	a.httpServer, err = server.NewServer(server.Config{
		Address:         cfg.ServerAddress,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Dependencies{
		Locks:          a.locks,
		Conferences:    conferences,
		Auth:           auth.NewAuthenticator(&cfg.Auth),
		Hub:            hub,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	loader.AddWatcher(a.applyConfig)

	logger.Infow("Application initialized",
		"backend", backendType,
		"lock_timeout", cfg.Lock.Timeout().String(),
		"event_drivers", cfg.Events.Drivers,
	)
	return nil
}

func newMetrics(cfg observability.Config, logger *observability.SLogger) (observability.MetricsClient, http.Handler, error) {
	switch cfg.MetricsExporter {
	case observability.ExporterPrometheus:
		prom := observability.NewPromMetrics(cfg, logger)
		return prom, prom.Handler(), nil
	case observability.ExporterOTLP:
		m, err := observability.NewMetricsClient(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create metrics client: %w", err)
		}
		return m, nil, nil
	default:
		return observability.NoopMetrics{}, nil, nil
	}
}

func newPublishers(cfg config.EventsConfig, hub *events.Hub) ([]events.Publisher, error) {
	var publishers []events.Publisher
	closeAll := func() {
		for _, p := range publishers {
			_ = p.Close()
		}
	}

	if hub != nil {
		publishers = append(publishers, hub)
	}
	if cfg.Enabled(config.DriverNATS) {
		p, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	if cfg.Enabled(config.DriverKafka) {
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, nil)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}

// applyConfig applies the settings that can change without a restart.
func (a *App) applyConfig(cfg *config.GlobalConfig) {
	if timeout := cfg.Lock.Timeout(); timeout != a.locks.Timeout() {
		a.locks.SetTimeout(timeout)
		a.logger.Infow("Lock timeout updated", "lock_timeout", timeout.String())
	}
	if cfg.Backend.Type != a.backendType {
		a.logger.Warnw("Backend type change requires a restart", "current", a.backendType, "configured", cfg.Backend.Type)
	}
	a.logger.SetLevel(cfg.Logger.Level.GetZapLevel())
}

// Run starts the HTTP server, the expired lock sweeper and the event
// notifier, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.locks.Ping(ctx); err != nil {
		a.logger.Warnw("Lock store is not reachable at startup", "backend", a.backendType, "error", err)
	}

	// The notifier closes the publishers once it stops.
	a.publishers = nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.httpServer.Start(gctx) })
	g.Go(func() error { return a.sweeper.Run(gctx) })
	g.Go(func() error { return a.notifier.Run(gctx) })
	return g.Wait()
}

// Shutdown releases publishers the notifier never took over, the store, the
// database and the telemetry providers. It is safe on a nil App.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	for _, p := range a.publishers {
		if err := p.Close(); err != nil && a.logger != nil {
			a.logger.Errorf("Error closing event publisher: %v", err)
		}
	}
	a.publishers = nil
	if a.lockStore != nil {
		a.lockStore.Close()
		a.lockStore = nil
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil && a.logger != nil {
			a.logger.Errorf("Error closing conference database: %v", err)
		}
		a.db = nil
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
		a.otelShutdown = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

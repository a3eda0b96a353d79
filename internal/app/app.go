package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/bus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/config"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/database"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/health"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phasebus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/registry"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/toolclient"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/workflow"
)

// App is the composition root of the orchestration core. All components are
// constructed here explicitly; nothing relies on package-level singletons.
type App struct {
	config   *config.Config
	logger   *logrus.Logger
	version  string
	server   *http.Server
	emitter  *events.Emitter
	registry *registry.Registry
	baseBus  *bus.Bus
	phaseBus *phasebus.EnhancedBus
	engine   *workflow.Engine
	dbClient *database.ArangoClient
	clients  toolclient.Factory
}

// New wires the application from configuration.
func New(cfg *config.Config, version string) (*App, error) {
	logger := logrus.StandardLogger()

	emitter := events.NewEmitter()
	reg := registry.New(logger)

	baseBus := bus.New(bus.Config{
		MaxHistorySize:  cfg.Bus.MaxHistorySize,
		DeliveryTimeout: time.Duration(cfg.Bus.DeliveryTimeoutMs) * time.Millisecond,
	}, emitter)

	busOpts := []phasebus.Option{}

	var dbClient *database.ArangoClient
	if cfg.Database.Enabled {
		client, err := database.NewArangoClient(&database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect snapshot store: %w", err)
		}
		repo, err := phasebus.NewArangoSnapshotRepository(client)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create snapshot repository: %w", err)
		}
		dbClient = client
		busOpts = append(busOpts, phasebus.WithSnapshotRepository(repo))
	}

	phaseBus := phasebus.New(phasebus.Config{
		ProcessInterval: time.Duration(cfg.Bus.ProcessIntervalMs) * time.Millisecond,
		MaxPerTick:      cfg.Bus.MaxPerTick,
		MaxRetries:      cfg.Bus.MaxRetries,
		BaseBackoff:     time.Duration(cfg.Bus.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:      time.Duration(cfg.Bus.MaxBackoffMs) * time.Millisecond,
		DeliveryTimeout: time.Duration(cfg.Bus.DeliveryTimeoutMs) * time.Millisecond,
	}, baseBus, emitter, busOpts...)

	engine := workflow.NewEngine(reg, emitter)

	clients := toolclient.NewFactory(toolclient.StdioDefaults{
		RequestTimeout: time.Duration(cfg.Stdio.TimeoutMs) * time.Millisecond,
		Framing:        toolclient.Framing(cfg.Stdio.Framing),
	})

	return &App{
		config:   cfg,
		logger:   logger,
		version:  version,
		emitter:  emitter,
		registry: reg,
		baseBus:  baseBus,
		phaseBus: phaseBus,
		engine:   engine,
		dbClient: dbClient,
		clients:  clients,
	}, nil
}

// ClientFactory returns the tool client factory carrying the configured
// stdio defaults; agent constructors pass it via agent.WithClientFactory.
func (a *App) ClientFactory() toolclient.Factory {
	return a.clients
}

// Registry returns the agent registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Engine returns the workflow engine.
func (a *App) Engine() *workflow.Engine {
	return a.engine
}

// Bus returns the enhanced message bus.
func (a *App) Bus() *phasebus.EnhancedBus {
	return a.phaseBus
}

// BaseBus returns the underlying base bus.
func (a *App) BaseBus() *bus.Bus {
	return a.baseBus
}

// Events returns the shared event emitter.
func (a *App) Events() *events.Emitter {
	return a.emitter
}

// Run starts the bus processor and the HTTP surface, then blocks until a
// termination signal arrives and shuts everything down.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.phaseBus.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	health.NewHandler(a.registry, a.phaseBus, a.engine, a.version).RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", a.server.Addr).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.Shutdown(ctx)
		return err
	case sig := <-quit:
		a.logger.WithField("signal", sig.String()).Info("Shutting down")
		return a.Shutdown(ctx)
	}
}

// Shutdown stops the processor loop, cleans up every agent and stops the
// HTTP server.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a.phaseBus.Stop()

	if err := a.registry.Clear(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("Agent cleanup reported failures")
	}

	if a.dbClient != nil {
		a.dbClient.Close()
	}

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lifeline/internal/api"
	"lifeline/internal/config"
	"lifeline/internal/database"
	"lifeline/internal/gate"
	"lifeline/internal/hub"
	"lifeline/internal/metrics"
	"lifeline/internal/notify"
	"lifeline/internal/router"
	"lifeline/internal/scorer"
	"lifeline/internal/session"
	"lifeline/internal/websocket"
	pkgdatabase "lifeline/pkg/database"
	"lifeline/pkg/interfaces"
)

// Application owns every component and their startup order:
// Database -> Session -> Registry -> Router -> Hub -> Gate -> API -> HTTP.
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	store      *database.Manager
	sessions   *session.Manager
	registry   *websocket.Registry
	roomRouter *router.Router
	roomHub    *hub.Hub
	accessGate *gate.Gate
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication wires all components from configuration.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	store, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(store.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied")

	validator := pkgdatabase.NewSchemaValidator(store.GetDB())
	if err := validator.ValidateTablesExist(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if err := validator.ValidateIndexes(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	var notifier interfaces.Notifier
	if cfg.Notifier.AccountSID != "" && cfg.Notifier.AuthToken != "" && cfg.Notifier.From != "" {
		endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", cfg.Notifier.AccountSID)
		notifier = notify.NewSMSNotifier(endpoint, cfg.Notifier.AccountSID, cfg.Notifier.AuthToken, cfg.Notifier.From, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	notifier = notify.NewInstrumentedNotifier(notifier, m.NotifierFailures)

	sessions := session.NewManager(store, notifier, logger)
	registry := websocket.NewRegistry(m)

	var riskScorer interfaces.Scorer
	if cfg.Scorer.Endpoint != "" {
		riskScorer = scorer.NewHTTPScorer(cfg.Scorer.Endpoint, cfg.Scorer.Timeout, logger)
	}

	roomRouter := router.NewRouter(registry, sessions, store, riskScorer, cfg.Scorer.Timeout, m, logger)
	roomHub := hub.NewHub(registry, roomRouter, m, logger)
	accessGate := gate.NewGate(store, notifier, []byte(cfg.Guardian.SigningKey), cfg.Guardian.TokenTTL, cfg.Guardian.LinkBase, logger)

	wsHandler := websocket.NewHandler(roomRouter, roomHub, store, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.BufferSize,
	}, logger)
	apiServer := api.NewServer(sessions, store, accessGate, registry, wsHandler.HandleWebSocket, promReg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      store,
		sessions:   sessions,
		registry:   registry,
		roomRouter: roomRouter,
		roomHub:    roomHub,
		accessGate: accessGate,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the hub up, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting lifeline", zap.String("addr", app.httpServer.Addr))

	if err := app.roomHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.roomHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("lifeline started")
		return nil
	case <-ctx.Done():
		_ = app.roomHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP -> Hub -> Database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down lifeline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("http server shutdown error", zap.Error(err))
	}
	if err := app.roomHub.Stop(); err != nil {
		app.logger.Warn("hub shutdown error", zap.Error(err))
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}

	app.logger.Info("shutdown complete")
	return nil
}

// GetAddr returns the bound listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

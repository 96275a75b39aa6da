package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"roulette/internal/api"
	"roulette/internal/config"
	"roulette/internal/database"
	"roulette/internal/hub"
	"roulette/internal/moderation"
	"roulette/internal/ratelimit"
	"roulette/internal/websocket"
)

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Journal → Moderation → Limiter → Registry → Hub → Transport → API → HTTP
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	journal    *database.Manager
	moderation *moderation.Publisher
	limiter    *ratelimit.Limiter
	registry   *websocket.Registry
	wsHandler  *websocket.Handler
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// HubConfig maps the file/env settings onto the hub
func HubConfig(cfg *config.Config) hub.Config {
	return hub.Config{
		EventBuffer:     cfg.WebSocket.EventBuffer,
		SessionTimeout:  cfg.Reaper.SessionTimeout,
		SweepInterval:   cfg.Reaper.Interval,
		RequeuePriority: cfg.Matching.RequeuePriority,
		Limits: hub.Limits{
			Connect: cfg.Limits.Connect,
			General: cfg.Limits.General,
			Ready:   cfg.Limits.Ready,
			Chat:    cfg.Limits.Chat,
			Report:  cfg.Limits.Report,
		},
		Weights: cfg.Matching.Weights,
	}
}

// HandlerConfig maps the file/env settings onto the websocket transport
func HandlerConfig(cfg *config.Config) websocket.HandlerConfig {
	return websocket.HandlerConfig{
		ConnectBudget:   cfg.Limits.Connect,
		FramesPerSecond: cfg.WebSocket.FramesPerSecond,
		FrameBurst:      cfg.WebSocket.FrameBurst,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.PongWait,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	journal, err := database.NewManager(&cfg.Database, logger.Named("journal"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session journal: %w", err)
	}

	publisher, err := moderation.Dial(cfg.Moderation, logger.Named("moderation"))
	if err != nil {
		_ = journal.Close()
		return nil, fmt.Errorf("failed to initialize moderation publisher: %w", err)
	}

	// FUNCTIONAL DISCOVERY: One limiter serves both the transport's connect
	// budget and the hub's per-client budgets
	limiter := ratelimit.NewLimiter()
	registry := websocket.NewRegistry(logger.Named("registry"))

	matchHub := hub.NewHub(HubConfig(cfg), hub.Dependencies{
		Sender:    registry,
		Limiter:   limiter,
		Journal:   journal,
		Moderator: publisher,
		Logger:    logger.Named("hub"),
	})

	wsHandler := websocket.NewHandler(registry, matchHub, limiter, HandlerConfig(cfg), logger.Named("websocket"))

	apiServer := api.NewServer(matchHub, journal, wsHandler, api.Options{
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
		RequestTimeout:    cfg.HTTP.WriteTimeout,
		Logger:            logger.Named("http"),
	})

	httpServer := &http.Server{
		Addr:        cfg.Address(),
		Handler:     apiServer,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// Hijacked websocket connections are not subject to WriteTimeout
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		journal:    journal,
		moderation: publisher,
		limiter:    limiter,
		registry:   registry,
		wsHandler:  wsHandler,
		hub:        matchHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start starts the hub, then binds the listener and serves in the background
func (app *Application) Start(ctx context.Context) error {
	// The hub outlives ctx so disconnects from closing sockets still land; Stop ends it
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info("Roulette server started", zap.String("addr", listener.Addr().String()))
	return nil
}

// Run starts the application and blocks until ctx ends or the server fails,
// then shuts down within the configured timeout
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("Shutdown requested")
	case runErr = <-app.serveErr:
		app.logger.Error("Server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → sockets → Hub → Moderation → Journal
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down roulette server")
	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// TECHNICAL DISCOVERY: Shutdown does not track hijacked connections; closing
	// them ends each read pump, and the hub must keep running until every pump
	// has queued its disconnect or live sessions never reach the journal
	app.registry.CloseAll()
	if err := app.wsHandler.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket drain: %w", err))
	}

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.moderation.Close(); err != nil {
		errs = append(errs, fmt.Errorf("moderation shutdown: %w", err))
	}
	if err := app.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal shutdown: %w", err))
	}

	app.logger.Info("Roulette server shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP surface for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

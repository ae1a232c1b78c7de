// Package app wires the classroom server together: journal, connection
// registry, broadcaster, state store, websocket handler and action gateway.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"classroom/internal/classroom"
	"classroom/internal/config"
	"classroom/internal/gateway"
	"classroom/internal/identity"
	"classroom/internal/journal"
	"classroom/internal/websocket"
	"classroom/pkg/types"
)

// publisher fans committed mutations out to connected clients and into the
// journal. Both sinks are non-blocking, so commits never stall on delivery.
type publisher struct {
	broadcaster *websocket.Broadcaster
	recorder    *journal.Recorder
}

func (p *publisher) Publish(classroomID string, payload types.Payload) {
	p.broadcaster.Publish(classroomID, payload)
	p.recorder.Record(classroomID, payload)
}

// Application owns the component graph and the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	logger     *slog.Logger
	recorder   *journal.Recorder
	registry   *websocket.Registry
	store      *classroom.Store
	httpServer *http.Server
}

// New builds the application. Initialization order follows the dependency
// graph: journal, registry, broadcaster, store, websocket handler, gateway.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	recorder, err := journal.Open(cfg.Journal.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	registry := websocket.NewRegistry(logger)
	broadcaster := websocket.NewBroadcaster(registry, logger)
	publish := &publisher{broadcaster: broadcaster, recorder: recorder}

	store := classroom.NewStore(publish,
		classroom.WithLogger(logger),
		classroom.WithDefaultTurnDuration(cfg.Classroom.DefaultTurnDuration))

	verifier := identity.NewVerifier(cfg.JWTSecret)

	wsHandler := websocket.NewHandler(store, registry, publish, verifier, websocket.Options{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		BufferSize:       cfg.WebSocket.BufferSize,
		MessagesPerMin:   cfg.WebSocket.MessagesPerMin,
	}, logger)

	gw := gateway.NewServer(store, recorder, verifier, wsHandler, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
		registry:   registry,
		store:      store,
		httpServer: httpServer,
	}, nil
}

// Start begins serving and returns once the listener is accepting
// connections or startup failed.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting classroom server", "addr", app.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		app.recorder.Close()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("classroom server started")
		return nil
	case <-ctx.Done():
		app.recorder.Close()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP listener first, then the
// journal once no more commits can arrive.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classroom server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("http shutdown", "error", err)
	}
	if err := app.recorder.Close(); err != nil {
		app.logger.Error("journal shutdown", "error", err)
	}

	app.logger.Info("shutdown complete")
	return nil
}

// Addr returns the bound server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

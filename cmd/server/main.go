// Agent widgets dashboard server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/agent-widgets/internal/agent"
	"github.com/ashureev/agent-widgets/internal/config"
	"github.com/ashureev/agent-widgets/internal/dashboard"
	"github.com/ashureev/agent-widgets/internal/identity"
	"github.com/ashureev/agent-widgets/internal/middleware"
	"github.com/ashureev/agent-widgets/internal/store"
	"github.com/ashureev/agent-widgets/internal/widget"
	"github.com/ashureev/agent-widgets/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "widgets", len(cfg.Widgets))

	// Conversation logging: NDJSON files plus the optional SQLite diagnostics sink.
	fileLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	var repo store.EventRepository
	var sink agent.ConversationLogger
	if cfg.DiagnosticsDBPath != "" {
		sqliteStore, err := store.NewSQLite(cfg.DiagnosticsDBPath)
		if err != nil {
			slog.Error("Failed to initialize diagnostics database", "error", err)
			os.Exit(1)
		}
		if err := sqliteStore.Ping(context.Background()); err != nil {
			slog.Error("Diagnostics database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Diagnostics database connected", "path", cfg.DiagnosticsDBPath)
		repo = sqliteStore
		sink = store.NewEventSink(sqliteStore, cfg.ConversationLog.QueueSize, logger)
	}

	conversationLogger := agent.MultiConversationLogger(fileLogger, sink)
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	services, err := newServices(cfg, conversationLogger)
	if err != nil {
		slog.Error("Failed to initialize agent clients", "error", err)
		os.Exit(1)
	}

	factory := func(wc widget.Config, visitorID string) *widget.Controller {
		session := services[wc.ID].Session(visitorID, agent.ChannelWeb)
		return widget.NewController(wc, session,
			widget.WithSerializedSends(cfg.SerializeSends),
			widget.WithLogger(logger.With("visitor_id", visitorID)),
		)
	}

	reg := dashboard.NewRegistry(cfg.Widgets, factory)
	defer reg.Close()
	hub := dashboard.NewHub()

	render, err := dashboard.NewRenderer()
	if err != nil {
		slog.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	// Initialize handlers.
	dashboardHandler := dashboard.NewHandler(reg, render, limiter)
	streamHandler := dashboard.NewStreamHandler(reg, render, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	r.Handle("/static/*", http.StripPrefix("/static", web.StaticHandler()))

	// Everything below is per visitor.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))

		dashboardHandler.RegisterRoutes(r)
		if repo != nil && cfg.IsDevelopment() {
			dashboard.NewDiagnosticsHandler(repo).RegisterRoutes(r)
		}

		// WebSocket endpoint.
		r.Get("/ws/widgets/{id}", streamHandler.ServeHTTP)
	})

	// WebSocket streams are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the idle-visitor janitor.
	dashboard.StartJanitor(ctx, reg, cfg.SessionTTL, func(visitorID string) {
		hub.CloseVisitor(visitorID)
		agent.ReleaseVisitor(conversationLogger, visitorID)
	})
	slog.Info("Janitor started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

// newServices builds one agent client per configured widget.
func newServices(cfg *config.Config, log agent.ConversationLogger) (map[string]*agent.Service, error) {
	services := make(map[string]*agent.Service, len(cfg.Widgets))
	for _, wc := range cfg.Widgets {
		clientCfg := agent.DefaultClientConfig()
		clientCfg.Endpoint = wc.Endpoint
		clientCfg.AccessKey = wc.AccessKey
		clientCfg.Model = wc.Model
		clientCfg.Timeout = cfg.AgentTimeout
		client, err := agent.NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("widget %s: %w", wc.ID, err)
		}
		svc := agent.NewService(wc.ID, client, log)
		services[svc.WidgetID()] = svc
		slog.Info("Agent client ready", "widget_id", svc.WidgetID(), "endpoint", client.Endpoint())
	}
	return services, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// Goal Planner - conversational goal planning server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/chat"
	"github.com/ashureev/goalplan/internal/config"
	"github.com/ashureev/goalplan/internal/gsync"
	"github.com/ashureev/goalplan/internal/identity"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/ashureev/goalplan/internal/logging"
	"github.com/ashureev/goalplan/internal/middleware"
	"github.com/ashureev/goalplan/internal/planner"
	"github.com/ashureev/goalplan/internal/ratelimit"
	"github.com/ashureev/goalplan/internal/store"
	"github.com/ashureev/goalplan/internal/worker"
	"github.com/ashureev/goalplan/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Console: cfg.IsDevelopment()})
	if err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.Gemini.Model)

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := db.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	repo := store.NewCachedRepository(db, cfg.CacheSize, cfg.CacheTTL)

	policy, err := llm.PolicyByName(cfg.Gemini.KeyPolicy, cfg.Gemini.KeySeed)
	if err != nil {
		slog.Error("Invalid key policy", "error", err)
		os.Exit(1)
	}
	models, err := llm.NewPool(cfg.Gemini.APIKeys, policy, llm.GeminiFactory(cfg.Gemini.Model))
	if err != nil {
		slog.Error("Failed to initialize model pool", "error", err)
		os.Exit(1)
	}
	slog.Info("Model pool ready", "keys", len(cfg.Gemini.APIKeys), "policy", cfg.Gemini.KeyPolicy)

	// Initialize services.
	oauthCfg := identity.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, gsync.Scopes)
	tokens, err := identity.NewTokens(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		slog.Error("Failed to initialize session tokens", "error", err)
		os.Exit(1)
	}

	clients := gsync.NewClients(oauthCfg, repo, nil)
	taskService := gsync.NewTaskService(clients)
	calendarSync := gsync.NewCalendarSync(clients)

	assembler := chat.NewAssembler(repo, chat.NewSummarizer(cfg.Gemini.Timeout), chat.AssemblerConfig{
		MaxTokens:     cfg.Context.MaxTokens,
		KeepRecent:    cfg.Context.KeepRecent,
		SummaryWindow: cfg.Context.SummaryWindow,
		Timeout:       cfg.Gemini.Timeout,
	})
	driver := chat.NewDriver(chat.DriverDeps{
		Limiter:   ratelimit.New(repo, cfg.RateLimit, cfg.RateWindow),
		Assembler: assembler,
		Bridge:    chat.NewBridge(gsync.NewFetchTasks(taskService), gsync.NewAddOrUpdateTasks(taskService)),
		Turns:     repo,
		Plans:     repo,
		Timeout:   cfg.Gemini.Timeout,
	})
	sessions := chat.NewSessions(repo, models)

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxSizeMB:     cfg.ConversationLog.MaxSizeMB,
		MaxBackups:    cfg.ConversationLog.MaxBackups,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	chatHandler := chat.NewHandler(sessions, driver, repo, conversationLogger)
	defer chatHandler.Close()

	allowedOrigin := cfg.FrontendURL
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	wsHandler := chat.NewWebSocketHandler(chatHandler, allowedOrigin, cfg.IsDevelopment())
	planHandler := planner.NewHandler(sessions, planner.NewGenerator(assembler, repo, cfg.Gemini.Timeout), repo)
	syncHandler := gsync.NewHandler(taskService, calendarSync)
	healthHandler := api.NewHealthHandler(db, 5*time.Second)
	authHandler := identity.NewHandler(identity.HandlerConfig{
		OAuth:       oauthCfg,
		Tokens:      tokens,
		Users:       repo,
		FrontendURL: cfg.FrontendURL,
		IsDev:       cfg.IsDevelopment(),
		OnLogout:    sessions.Disconnect,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r)

	// Routes that require a signed-in user.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(tokens))
		authHandler.RegisterAPIRoutes(r)
		chatHandler.RegisterRoutes(r)
		planHandler.RegisterRoutes(r)
		syncHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded client (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: the chat socket is long-lived, so there is no WriteTimeout.
	// Model calls are bounded by GEMINI_TIMEOUT instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle state sweeper.
	sweeper := worker.NewStateSweeper(sessions, cfg.StateIdleTTL, cfg.StateSweepCron, repo.Invalidate)
	if err := sweeper.Start(ctx); err != nil {
		slog.Error("Failed to start state sweeper", "error", err)
		os.Exit(1)
	}

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
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

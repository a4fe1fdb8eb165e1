package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/config"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/akmatori/autoheal/internal/executor"
	"github.com/akmatori/autoheal/internal/github"
	"github.com/akmatori/autoheal/internal/handlers"
	"github.com/akmatori/autoheal/internal/jobs"
	"github.com/akmatori/autoheal/internal/llm"
	"github.com/akmatori/autoheal/internal/metrics"
	"github.com/akmatori/autoheal/internal/middleware"
	"github.com/akmatori/autoheal/internal/sandbox"
	"github.com/akmatori/autoheal/internal/secrets"
	"github.com/akmatori/autoheal/internal/services"
	slackutil "github.com/akmatori/autoheal/internal/slack"
	"github.com/akmatori/autoheal/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting autoheal %s...", handlers.Version)

	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}
	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths:         handlers.PublicPaths,
		QueryTokenPaths:   handlers.QueryTokenPaths,
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, logger.Warn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)
	log.Printf("Database connection established (%s)", cfg.DatabaseDriver)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	if err := database.InitializeDefaults(db); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	secretStore, err := secrets.NewStore(db, cfg.SecretKey)
	if err != nil {
		log.Fatalf("Failed to initialize secret store: %v", err)
	}

	reasoner, err := llm.NewClient(llm.Config{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.OpenAIModel,
		BaseURL:       cfg.OpenAIBaseURL,
		RatePerMinute: cfg.ReasoningRatePerMinute,
	})
	if err != nil {
		log.Fatalf("Failed to initialize reasoning client: %v", err)
	}
	log.Printf("Reasoning client initialized (model %s)", cfg.OpenAIModel)

	verifier := sandbox.NewClient(cfg.SandboxURL)
	codeHost := github.NewClient(cfg.GitHubAPIURL)
	log.Printf("Sandbox: %s, code host: %s", cfg.SandboxURL, cfg.GitHubAPIURL)

	activeCache, err := cache.NewActiveIncidents(cfg.Workflow.HydrateLimit)
	if err != nil {
		log.Fatalf("Failed to create incident cache: %v", err)
	}
	hub := events.NewHub(events.DefaultBufferSize)
	store := services.NewIncidentStore(db)
	projects := services.NewProjectService(db)

	// Slack is optional and hot-reloaded from the settings table
	slackManager := slackutil.NewManager(db)

	engine, err := workflow.New(workflow.Deps{
		Store:        store,
		Deduplicator: services.NewDeduplicator(db),
		Projects:     projects,
		Cache:        activeCache,
		Hub:          hub,
		Notifier:     slackutil.NewNotifier(slackManager),
		RCA:          executor.NewRCAStep(reasoner),
		Patch:        executor.NewPatchStep(reasoner),
		Verify:       executor.NewVerifyStep(verifier, secretStore),
		PR:           executor.NewPRStep(codeHost, secretStore),
		Config: workflow.Config{
			MaxVerifyAttempts:      cfg.Workflow.MaxVerifyAttempts,
			MaxConcurrentWorkflows: cfg.Workflow.MaxConcurrentWorkflows,
			RCATimeout:             cfg.Workflow.RCATimeout,
			PatchTimeout:           cfg.Workflow.PatchTimeout,
			VerifyTimeout:          cfg.Workflow.VerifyTimeout,
			PRTimeout:              cfg.Workflow.PRTimeout,
			NotifyTimeout:          cfg.Workflow.NotifyTimeout,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create workflow engine: %v", err)
	}

	slackHandler := handlers.NewSlackHandler(engine)
	slackManager.SetEventHandler(slackHandler.HandleSocketMode)

	router := &handlers.Router{
		HTTP:    handlers.NewHTTPHandler(db, prometheus.DefaultGatherer),
		Auth:    handlers.NewAuthHandler(jwtAuthMiddleware),
		API:     handlers.NewAPIHandler(engine, store, projects, secretStore, db, slackManager),
		Webhook: handlers.NewWebhookHandler(engine, middleware.NewAPIKeyAuth(cfg.IngestAPIKeys)),
		Events:  handlers.NewEventsWSHandler(hub),
		JWT:     jwtAuthMiddleware,
		CORS:    middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins...),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recovery, err := jobs.NewRecoveryJob(activeCache, store, engine, cfg.Workflow.RecoveryMode, cfg.Workflow.HydrateLimit)
	if err != nil {
		log.Fatalf("Invalid recovery configuration: %v", err)
	}
	if _, err := recovery.Run(ctx); err != nil {
		log.Fatalf("Startup recovery failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slackManager.WatchForReloads(gctx)
		return nil
	})

	g.Go(func() error {
		jobs.NewCacheRefresher(activeCache, store, cfg.Workflow.HydrateLimit).Start(gctx, cfg.Workflow.CacheRefreshInterval)
		return nil
	})

	if err := slackManager.Start(gctx); err != nil {
		log.Printf("Warning: Failed to start Slack: %v", err)
	} else if slackManager.IsRunning() {
		log.Println("Slack Socket Mode is ACTIVE")
	} else {
		log.Println("Slack integration is DISABLED (configure in Settings)")
	}

	log.Printf("Ingestion webhook: http://localhost:%d/webhook/incidents", cfg.HTTPPort)
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)

	<-gctx.Done()
	log.Println("Received shutdown signal, cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("Workflows still running at shutdown will be recovered on restart: %v", err)
	}
	slackManager.Stop()

	if err := g.Wait(); err != nil {
		log.Printf("Shutdown with error: %v", err)
		database.Close(db)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-approvals/internal/client"
	"github.com/pesio-ai/be-approvals/internal/handler"
	"github.com/pesio-ai/be-approvals/internal/platform/config"
	"github.com/pesio-ai/be-approvals/internal/platform/database"
	"github.com/pesio-ai/be-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-approvals/internal/platform/middleware"
	natsclient "github.com/pesio-ai/be-approvals/internal/platform/nats"
	"github.com/pesio-ai/be-approvals/internal/repository"
	"github.com/pesio-ai/be-approvals/internal/service"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Workflow definitions
	registry, err := workflow.LoadDefinitions(cfg.Workflow.DefinitionsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Workflow.DefinitionsFile).Msg("Failed to load workflow definitions")
	}
	log.Info().Strs("kinds", registry.Kinds()).Msg("Workflow definitions loaded")

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(db)
	var roles workflow.RoleDirectory = repository.NewRoleRepository(db)
	if cfg.Identity.GRPCAddr != "" {
		identityClient, err := client.NewIdentityGRPCClient(cfg.Identity.GRPCAddr, cfg.Identity.EntityID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create identity gRPC client")
		}
		defer identityClient.Close()
		roles = identityClient
		log.Info().Str("addr", cfg.Identity.GRPCAddr).Msg("Identity gRPC client initialized")
	}

	// Role cache
	var roleCache *client.CachedRoleDirectory
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable; role cache will fall through")
		}
		roleCache = client.NewCachedRoleDirectory(roles, rdb, client.RoleCacheTTL{
			Roles:   cfg.Redis.RoleTTL,
			Members: cfg.Redis.MembersTTL,
		}, log.Component("role_cache").Logger)
		roles = roleCache
		log.Info().
			Str("addr", cfg.Redis.Addr).
			Dur("roles_ttl", cfg.Redis.RoleTTL).
			Dur("members_ttl", cfg.Redis.MembersTTL).
			Msg("Role cache enabled")
	}

	// Notifications
	var notifier workflow.Notifier
	if cfg.NATS.URL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATS.URL,
			Name:     cfg.Service.Name,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{client.SubjectPrefix + ">"},
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		notifier = client.NewNotificationPublisher(nc, log.Component("notifications").Logger)
		log.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.Stream).Msg("NATS publisher initialized")

		if roleCache != nil && cfg.NATS.RoleEventsSubject != "" {
			if err := nc.Subscribe(cfg.NATS.RoleEventsSubject, 5*time.Second, log.Component("role_cache").Logger, roleCache.HandleRoleChange); err != nil {
				log.Fatal().Err(err).Msg("Failed to subscribe to role change events")
			}
			log.Info().Str("subject", cfg.NATS.RoleEventsSubject).Msg("Role cache invalidation subscribed")
		}
	} else {
		notifier = client.NewLogNotifier(log.Component("notifications").Logger)
		log.Warn().Msg("NATS_URL not set; notifications will only be logged")
	}

	// Initialize services
	workflowMetrics := metrics.NewWorkflow(prometheus.DefaultRegisterer, cfg.Service.Name)
	dispatcher := service.NewNotificationDispatcher(notifier, roles, workflowMetrics, cfg.Engine.NotifyTimeout, log.Component("dispatcher"))
	approvalService := service.NewApprovalService(requestRepo, roles, registry, dispatcher, workflowMetrics, log.Component("approvals"),
		service.WithMaxAttempts(cfg.Engine.MaxAttempts),
	)

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	handler.NewHTTPHandler(approvalService, log).Routes(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Actor(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.ActorInterceptor,
		handler.LoggingInterceptor(log.Component("grpc").Logger),
	))
	handler.NewGRPCHandler(approvalService, log.Logger).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	// Drain notifications produced by the last requests.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending notifications dropped at shutdown")
	}

	log.Info().Msg("Server stopped")
}

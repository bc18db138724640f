package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	cacheadapter "github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/cache"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/channels"
	eventadapter "github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/events"
	grpcadapter "github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/grpc"
	httpadapter "github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/http"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/adapters/postgres"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	dispatch   *eventadapter.DispatchWorker
	sweeper    *eventadapter.Sweeper
	events     *eventadapter.Worker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("bootstrapping m21 contractor matching engine", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	repos := postgres.NewRepositories(pool)
	leases := cacheadapter.NewRedisLeaseStore(redisClient)

	gatewayClient := &http.Client{Timeout: cfg.GatewayTimeout}
	senders := map[string]ports.ChannelSender{
		domain.ChannelInApp: channels.NewHTTPSender(domain.ChannelInApp, cfg.InAppGatewayURL, gatewayClient),
		domain.ChannelEmail: channels.NewHTTPSender(domain.ChannelEmail, cfg.EmailGatewayURL, gatewayClient),
		domain.ChannelSMS:   channels.NewHTTPSender(domain.ChannelSMS, cfg.SMSGatewayURL, gatewayClient),
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:         cfg.ServiceID,
			SimilarityThreshold: cfg.SimilarityThreshold,
			Weights:             cfg.Weights,
			MaxInvites:          cfg.MaxInvites,
			MaxAttempts:         cfg.MaxAttempts,
			ResponseWindow:      cfg.ResponseWindow,
			IndexRetryBudget:    cfg.IndexRetryBudget,
			IndexRetryBackoff:   cfg.IndexRetryBackoff,
			LeaseTTL:            cfg.LeaseTTL,
			LeaseRetryBudget:    cfg.LeaseRetryBudget,
			LeaseRetryBackoff:   cfg.LeaseRetryBackoff,
			IdempotencyTTL:      cfg.IdempotencyTTL,
			EventDedupTTL:       cfg.EventDedupTTL,
			SweepBatchSize:      cfg.SweepBatchSize,
		},
		Invitations: repos.Invitations,
		Attempts:    repos.Attempts,
		Matches:     repos.Matches,
		Projects:    repos.Projects,
		Contacts:    repos.Contacts,
		Jobs:        repos.DispatchJobs,
		Idempotency: repos.Idempotency,
		EventDedup:  repos.EventDedup,
		Outbox:      repos.Outbox,
		Leases:      leases,
		Embedder:    grpcadapter.NewEmbeddingClient(cfg.EmbeddingEndpoint),
		Index:       grpcadapter.NewCandidateIndexClient(cfg.IndexEndpoint),
		Senders:     senders,
	})

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The adapter owns the health registration; registering the stock health
	// server here as well would be a duplicate service registration.
	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewMatchingInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.Outbox,
		eventadapter.NewLoggingPublisher(logger),
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)
	dispatch := eventadapter.NewDispatchWorker(
		logger,
		repos.DispatchJobs,
		svc,
		cfg.PollInterval,
		cfg.DispatchBatchSize,
		cfg.DispatchClaimTTL,
		cfg.DispatchConcurrency,
	)
	sweeper := eventadapter.NewSweeper(logger, svc, cfg.SweepInterval)
	eventsWorker := eventadapter.NewWorker(
		logger,
		eventadapter.NewMemoryConsumer(),
		eventadapter.NewLoggingDLQPublisher(logger),
		svc,
		cfg.PollInterval,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		dispatch:   dispatch,
		sweeper:    sweeper,
		events:     eventsWorker,
		cleanupFn: func(ctx context.Context) {
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("matching workers started")
	errCh := make(chan error, 4)
	go func() { errCh <- r.outbox.Run(ctx) }()
	go func() { errCh <- r.dispatch.Run(ctx) }()
	go func() { errCh <- r.sweeper.Run(ctx) }()
	go func() { errCh <- r.events.Run(ctx) }()

	err := <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}

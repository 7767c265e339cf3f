// Command gg-server starts the GearGuard auth gRPC server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/gearguard/internal/config"
	"github.com/and161185/gearguard/internal/crypto"
	"github.com/and161185/gearguard/internal/limiter"
	"github.com/and161185/gearguard/internal/migrate"
	"github.com/and161185/gearguard/internal/repository/sqlrepo"
	grpcserver "github.com/and161185/gearguard/internal/server/grpc"
	"github.com/and161185/gearguard/internal/service"
	"github.com/and161185/gearguard/internal/store"
	"github.com/and161185/gearguard/internal/telemetry"
	"github.com/and161185/gearguard/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, connects the store, runs migrations, and serves gRPC.
func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
		zap.String("env", cfg.Env),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "gearguard-auth",
		ServiceVersion: version,
		Environment:    cfg.Env,
		CollectorAddr:  cfg.OTelCollectorAddr,
	})
	if err != nil {
		logger.Fatal("telemetry init", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Store
	transports, err := buildTransports(cfg, logger)
	if err != nil {
		logger.Fatal("transports", zap.Error(err))
	}
	conn := store.New(transports, store.Options{
		RetryBudget:         cfg.RetryBudget,
		CriticalRetryBudget: cfg.CriticalRetryBudget,
		BaseDelay:           cfg.RetryBase,
		HealthInterval:      cfg.HealthInterval,
		Logger:              logger,
		Tracer:              tel.Tracer(),
	})
	defer func() { _ = conn.Close() }()

	if err := conn.Connect(ctx); err != nil {
		logger.Fatal("store connect", zap.Error(err))
	}
	logger.Info("store connected", zap.String("transport", conn.Transport()))

	if err := migrate.Up(ctx, conn, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	if err := conn.Sync(ctx); err != nil {
		logger.Warn("initial sync", zap.Error(err))
	}
	if cfg.SyncInterval > 0 {
		go syncLoop(ctx, conn, cfg.SyncInterval, logger)
	}

	// Repositories
	users := sqlrepo.NewUserRepo(conn)
	orgs := sqlrepo.NewOrganizationRepo(conn)
	sessions := sqlrepo.NewSessionRepo(conn.Critical())
	resets := sqlrepo.NewResetTokenRepo(conn)

	lim := limiter.New(conn, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)

	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}

	var notifier service.ResetNotifier = service.DiscardNotifier{}
	if cfg.Development() {
		notifier = service.LogNotifier{Log: logger}
	}

	// Services
	auth, err := service.NewAuthenticator(service.Deps{
		Codec:    codec,
		Policy:   crypto.NewPasswordPolicy(cfg.BcryptCost),
		Users:    users,
		Orgs:     orgs,
		Sessions: sessions,
		Resets:   resets,
		Limiter:  lim,
		Notifier: notifier,
		Logger:   logger,
	}, service.Options{
		CheckAccountActive: cfg.CheckAccountActive,
		ResetTokenTTL:      cfg.ResetTokenTTL,
	})
	if err != nil {
		logger.Fatal("authenticator", zap.Error(err))
	}

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpcserver.Interceptors(auth, logger),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled: set TLS_CERT and TLS_KEY")
	}
	s := grpc.NewServer(opts...)
	grpcserver.RegisterAuthServiceServer(s, grpcserver.New(auth, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	go grpcserver.WatchStore(ctx, hs, conn, cfg.HealthInterval, logger)
	if cfg.Development() {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSEnabled()))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildTransports returns the store transports in the configured order.
func buildTransports(cfg *config.Config, log *zap.Logger) ([]store.Transport, error) {
	order, err := cfg.TransportOrder()
	if err != nil {
		return nil, err
	}
	out := make([]store.Transport, 0, len(order))
	for _, name := range order {
		switch name {
		case "remote":
			out = append(out, store.Remote(cfg.StoreURL, cfg.StoreAuthToken))
		case "replica":
			out = append(out, store.Replica(cfg.ReplicaPath, cfg.StoreURL, cfg.StoreAuthToken, log))
		case "local":
			out = append(out, store.Local(cfg.LocalDBPath))
		}
	}
	return out, nil
}

// syncLoop pulls replicated tables until ctx is done. Links without a replica
// treat Sync as a no-op.
func syncLoop(ctx context.Context, conn *store.Connection, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Sync(ctx); err != nil {
				log.Warn("periodic sync", zap.Error(err))
			}
		}
	}
}

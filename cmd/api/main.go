package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/app"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/config"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/httpapi"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fms-auth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.Auth.UsingDevSecret {
		logger.Warn("AUTH_JWT_SECRET not set: using the development signing secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	abort := func(err error) error {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("close app", zap.Error(cerr))
		}
		return err
	}

	var ready httpapi.Readiness = httpapi.ReadyProbe{}
	if a.DB != nil {
		ready = httpapi.ReadyProbe{DB: a.DB}
	}

	opts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithTrustProxy(cfg.Server.TrustProxy),
	}
	if cfg.RateLimit.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return abort(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		opts = append(opts, httpapi.WithLimiter(httpapi.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)))
	} else {
		local := httpapi.NewLocalLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
		go local.Run(ctx, time.Minute)
		opts = append(opts, httpapi.WithLimiter(local))
	}
	api := httpapi.New(a.Service, ready, version, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return abort(fmt.Errorf("grpc listen: %w", err))
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(ready, logger)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close app", zap.Error(err))
	}
	logger.Info("stopped")
	return runErr
}

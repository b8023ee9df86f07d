// Package app assembles the auth service from configuration. It is shared by
// the api and migrate binaries so both provision users the same way.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/config"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/ids"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/store/memory"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/store/pg"
)

// App holds the wired service and the resources Close releases.
type App struct {
	Service *auth.Service
	Audit   *audit.Logger
	// DB is nil when running on the in-memory stores.
	DB *pg.Store

	verifier *auth.Verifier
	closers  []func() error
}

// New opens the stores and builds the gateway described by cfg.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	var (
		users auth.UserStore
		sinks audit.MultiSink
		trail audit.Reader
	)
	if cfg.Database.DSN != "" {
		store, err := pg.Open(ctx, pg.Options{
			Driver:         cfg.Database.Driver,
			DSN:            cfg.Database.DSN,
			MaxOpenConns:   cfg.Database.MaxOpenConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.DB = store
		a.closers = append(a.closers, store.Close)
		users = store
		auditLog := store.AuditLog()
		sinks = append(sinks, auditLog)
		trail = auditLog
	} else {
		if !cfg.IsDevelopment() {
			log.Warn("DB_DSN not set: users and audit entries are kept in memory and lost on restart")
		}
		auditLog := memory.NewAuditLog()
		users = memory.NewUserStore()
		sinks = append(sinks, auditLog)
		trail = auditLog
	}

	sinks = append(sinks, audit.NewLogSink(log.Named("audit")))
	if cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath, audit.FileSinkOptions{
			RotationTime: cfg.Audit.RotationTime,
			MaxAge:       cfg.Audit.MaxAge,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fileSink.Close)
		sinks = append(sinks, fileSink)
	}

	hasher, err := auth.NewHasher(cfg.Auth.PasswordAlgo, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL, auth.WithTokenIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}
	a.verifier, err = auth.NewVerifier(users, hasher, auth.WithVerifierLogger(log))
	if err != nil {
		return nil, err
	}
	seq, err := ids.NewSequencer(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("audit sequencer: %w", err)
	}
	a.Audit = audit.NewLogger(sinks, seq,
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithZapLogger(log),
	)

	a.Service, err = auth.NewService(users, hasher, codec, a.verifier,
		auth.WithAuditor(a.Audit),
		auth.WithAuditReader(trail),
		auth.WithLogger(log),
		auth.WithRoleSelection(cfg.Auth.AllowRoleSelection),
	)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// Close waits for last-login retries, drains the audit queue, then releases
// files and connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.verifier != nil {
		if err := a.verifier.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("last login retries: %w", err))
		}
	}
	if a.Audit != nil {
		if err := a.Audit.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain audit: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

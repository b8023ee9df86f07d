package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/app"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/config"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/migrate"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/store/pg"
)

const usage = `usage: migrate [-dsn DSN] [-driver pgx|postgres] up|down|status
       migrate seed-owner -username NAME -email EMAIL -name "Full Name" [-pin 123456]`

func main() {
	_ = godotenv.Load()

	var (
		dsn    = flag.String("dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN")
		driver = flag.String("driver", envOr("DB_DRIVER", "pgx"), "database/sql driver: pgx or postgres")
	)
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := obs.NewLogger(obs.LogConfigFromEnv())
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := flag.Arg(0)
	switch cmd {
	case "up", "down", "status":
		if *dsn == "" {
			fatal(fmt.Errorf("missing DSN: provide via -dsn or DB_DSN"))
		}
		err = runMigrations(ctx, cmd, *driver, *dsn, logger)
	case "seed-owner":
		err = seedOwner(ctx, flag.Args()[1:], logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(fmt.Errorf("%s: %w", cmd, err))
	}
}

func runMigrations(ctx context.Context, cmd, driver, dsn string, logger *zap.Logger) error {
	store, err := pg.Open(ctx, pg.Options{Driver: driver, DSN: dsn})
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, err := migrate.NewManager(store.DB().DB, migrate.Migrations(), migrate.WithLogger(logger))
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", len(applied))
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("rolled back %s\n", name)
	case "status":
		statuses, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			if st.Applied {
				fmt.Printf("applied  %s  %s\n", st.AppliedAt.Format(time.RFC3339), st.Name)
			} else {
				fmt.Printf("pending  %-20s  %s\n", "-", st.Name)
			}
		}
	}
	return nil
}

// seedOwner registers the first OWNER through the gateway so the account gets
// the same validation, hashing and CREATE audit entry as any other user.
func seedOwner(ctx context.Context, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("seed-owner", flag.ContinueOnError)
	var (
		username = fs.String("username", "", "owner username")
		email    = fs.String("email", "", "owner email")
		name     = fs.String("name", "", "owner display name")
		pin      = fs.String("pin", os.Getenv("SEED_OWNER_PIN"), "6-digit password (defaults to SEED_OWNER_PIN)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required to seed an owner")
	}
	cfg.Auth.AllowRoleSelection = true
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()

	user, err := a.Service.Register(ctx, auth.Profile{
		Email:    *email,
		Username: *username,
		Password: *pin,
		Name:     *name,
		Role:     auth.RoleOwner.String(),
	}, audit.RequestMeta{UserAgent: "migrate/seed-owner"})
	if err != nil {
		return err
	}
	fmt.Printf("created owner %s (%s)\n", user.Username, user.ID)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
	os.Exit(1)
}

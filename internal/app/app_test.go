package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env: "development",
		Auth: config.AuthConfig{
			Secret:             strings.Repeat("s", 32),
			Issuer:             "fms-test",
			TokenTTL:           time.Hour,
			PasswordAlgo:       "bcrypt",
			BcryptCost:         bcrypt.MinCost,
			AllowRoleSelection: true,
		},
		Database: config.DatabaseConfig{Driver: "pgx"},
		Audit: config.AuditConfig{
			QueueSize:    16,
			WriteTimeout: time.Second,
			FilePath:     filepath.Join(t.TempDir(), "audit.log"),
		},
		SnowflakeNode: 3,
	}
}

func TestNewInMemoryWritesAuditFile(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	a, err := New(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.DB != nil {
		t.Fatal("expected in-memory stores without DB_DSN")
	}

	user, err := a.Service.Register(ctx, auth.Profile{
		Email: "o@x.com", Username: "owner", Password: "123456", Name: "Owner", Role: "OWNER",
	}, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != auth.RoleOwner {
		t.Fatalf("expected OWNER, got %s", user.Role)
	}

	res, err := a.Service.Login(ctx, "owner", "123456", audit.RequestMeta{})
	if err != nil || res.Token == "" {
		t.Fatalf("Login: token=%q err=%v", res.Token, err)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(cfg.Audit.FilePath)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], `"action":"CREATE"`) || !strings.Contains(lines[1], `"action":"LOGIN"`) {
		t.Fatalf("unexpected audit lines %q", lines)
	}

	trail, err := a.Service.AuditTrail(ctx, 10)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 trail entries, got %d", len(trail))
	}
}

func TestNewHonorsRoleSelectionSwitch(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Auth.AllowRoleSelection = false
	a, err := New(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close(ctx) }()

	_, err = a.Service.Register(ctx, auth.Profile{
		Email: "o@x.com", Username: "owner", Password: "123456", Name: "Owner", Role: "OWNER",
	}, audit.RequestMeta{})
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestNewRejectsBadHasherConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Auth.PasswordAlgo = "md5"
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected unknown password algorithm to fail")
	}
}

package database

import (
	"testing"
	"time"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

func TestPoolConfig(t *testing.T) {
	cfg := config.PostgresSettings{
		Host:            "db.internal",
		Port:            5433,
		User:            "profiles",
		Password:        "secret",
		Database:        "profiles",
		SSLMode:         "disable",
		MaxConns:        12,
		MaxConnLifetime: time.Hour,
	}

	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		t.Fatalf("PoolConfig returned error: %v", err)
	}
	if poolConfig.MaxConns != 12 {
		t.Fatalf("expected max conns 12, got %d", poolConfig.MaxConns)
	}
	if poolConfig.MaxConnLifetime != time.Hour {
		t.Fatalf("expected max conn lifetime 1h, got %s", poolConfig.MaxConnLifetime)
	}
	if got := poolConfig.ConnConfig.Host; got != "db.internal" {
		t.Fatalf("expected host db.internal, got %s", got)
	}
	if got := poolConfig.ConnConfig.RuntimeParams["search_path"]; got != "profiles,public" {
		t.Fatalf("unexpected search_path %q", got)
	}
}

func TestPoolConfig_InvalidDSN(t *testing.T) {
	if _, err := PoolConfig(config.PostgresSettings{Host: "db", Port: 5432, SSLMode: "bogus"}); err == nil {
		t.Fatalf("expected an error for an invalid ssl mode")
	}
}

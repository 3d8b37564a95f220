package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/cardledger/internal/store/gormstore"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestResolveDriver(t *testing.T) {
	directory := t.TempDir()
	testCases := []struct {
		name           string
		dsn            string
		expectedDriver string
		expectedPath   string
	}{
		{name: "postgres", dsn: "postgres://user@localhost/ledger", expectedDriver: databaseDriverPostgres, expectedPath: ""},
		{name: "postgresql", dsn: "postgresql://user@localhost/ledger", expectedDriver: databaseDriverPostgres, expectedPath: ""},
		{name: "sqlite url", dsn: "sqlite://" + filepath.Join(directory, "a.db"), expectedDriver: databaseDriverSQLite, expectedPath: filepath.Join(directory, "a.db") + "?_pragma=busy_timeout(5000)"},
		{name: "plain path", dsn: filepath.Join(directory, "nested", "b.db"), expectedDriver: databaseDriverSQLite, expectedPath: filepath.Join(directory, "nested", "b.db") + "?_pragma=busy_timeout(5000)"},
		{name: "memory", dsn: ":memory:", expectedDriver: databaseDriverSQLite, expectedPath: ":memory:"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			driver, path, err := resolveDriver(testCase.dsn)
			if err != nil {
				t.Fatalf("resolve driver: %v", err)
			}
			if driver != testCase.expectedDriver || path != testCase.expectedPath {
				t.Fatalf("expected %s %q, got %s %q", testCase.expectedDriver, testCase.expectedPath, driver, path)
			}
		})
	}
}

func TestOpenInMemoryDatabaseSharesSchema(t *testing.T) {
	db, closeDB, err := openDatabase(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = closeDB() }()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	if maxOpen := sqlDB.Stats().MaxOpenConnections; maxOpen != 1 {
		t.Fatalf("expected a single in-memory connection, got %d", maxOpen)
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	var count int64
	if err := db.Table("cards").Count(&count).Error; err != nil {
		t.Fatalf("expected migrated cards table, got %v", err)
	}
}

func TestLoadConfigFromFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Parse([]string{
		"--database-url", "postgres://user@localhost/ledger",
		"--store-driver", "PGX",
		"--reward-rates", "gold=0.05",
		"--payment-max-attempts", "7",
		"--payment-retry-backoff", "20ms",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg := &runtimeConfig{}
	if err := loadConfig(cmd, viper.New(), cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StoreDriver != storeDriverPgx || cfg.ListenAddr != defaultGRPCListenAddr {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.PaymentMaxAttempts != 7 || cfg.PaymentRetryDelay != 20*time.Millisecond || cfg.RewardRates != "gold=0.05" {
		t.Fatalf("unexpected payment config: %+v", cfg)
	}
}

func TestLoadConfigRejectsPgxWithoutPostgres(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Parse([]string{"--store-driver", "pgx", "--database-url", "sqlite:///tmp/x.db"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	err := loadConfig(cmd, viper.New(), &runtimeConfig{})
	if err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres requirement, got %v", err)
	}
}

func TestBuildServiceOptions(t *testing.T) {
	cfg := &runtimeConfig{PaymentMaxAttempts: 3, IssuingPartnerURL: "https://issuer.example.test", RewardRates: "silver=0.04"}
	options, err := buildServiceOptions(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build options: %v", err)
	}
	if len(options) != 4 {
		t.Fatalf("expected logger, retry, rewards and partner options, got %d", len(options))
	}

	cfg.RewardRates = "silver"
	if _, err := buildServiceOptions(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected malformed reward rates to fail")
	}
	cfg.RewardRates = ""
	cfg.IssuingPartnerURL = "::not-a-url"
	if _, err := buildServiceOptions(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected malformed partner url to fail")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cardledgerv1 "github.com/MarkoPoloResearchLab/cardledger/api/cardledger/v1"
	"github.com/MarkoPoloResearchLab/cardledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/cardledger/internal/issuing"
	"github.com/MarkoPoloResearchLab/cardledger/internal/ledgerlog"
	"github.com/MarkoPoloResearchLab/cardledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/cardledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL        = "database-url"
	flagListenAddr         = "listen-addr"
	flagStoreDriver        = "store-driver"
	flagIssuingPartnerURL  = "issuing-partner-url"
	flagRewardRates        = "reward-rates"
	flagPaymentMaxAttempts = "payment-max-attempts"
	flagPaymentRetryDelay  = "payment-retry-backoff"

	configKeyDatabaseURL        = "database_url"
	configKeyListenAddr         = "listen_addr"
	configKeyStoreDriver        = "store_driver"
	configKeyIssuingPartnerURL  = "issuing_partner_url"
	configKeyRewardRates        = "reward_rates"
	configKeyPaymentMaxAttempts = "payment_max_attempts"
	configKeyPaymentRetryDelay  = "payment_retry_backoff"

	defaultDatabaseURL        = "sqlite:///tmp/cardledger.db"
	defaultGRPCListenAddr     = ":7000"
	defaultPaymentMaxAttempts = 5
	defaultPaymentRetryDelay  = 5 * time.Millisecond

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"

	databaseDriverPostgres = "postgres"
	databaseDriverSQLite   = "sqlite"
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	StoreDriver        string
	IssuingPartnerURL  string
	RewardRates        string
	PaymentMaxAttempts int
	PaymentRetryDelay  time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cardledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "cardledgerd",
		Short:         "Stored-value card and loyalty ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite path, sqlite:// or postgres:// connection string")
	cmd.Flags().String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagStoreDriver, storeDriverGorm, "ledger store implementation: gorm or pgx (postgres only)")
	cmd.Flags().String(flagIssuingPartnerURL, "", "issuing partner base URL; empty disables partner calls")
	cmd.Flags().String(flagRewardRates, "", "reward rate overrides, e.g. bronze=0.01,gold=0.03")
	cmd.Flags().Int(flagPaymentMaxAttempts, defaultPaymentMaxAttempts, "attempts per payment when a concurrent write wins the race")
	cmd.Flags().Duration(flagPaymentRetryDelay, defaultPaymentRetryDelay, "base delay between payment attempts")

	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *runtimeConfig) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:        "DATABASE_URL",
		configKeyListenAddr:         "GRPC_LISTEN_ADDR",
		configKeyStoreDriver:        "STORE_DRIVER",
		configKeyIssuingPartnerURL:  "ISSUING_PARTNER_URL",
		configKeyRewardRates:        "REWARD_RATES",
		configKeyPaymentMaxAttempts: "PAYMENT_MAX_ATTEMPTS",
		configKeyPaymentRetryDelay:  "PAYMENT_RETRY_BACKOFF",
	}
	flagBindings := map[string]string{
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyListenAddr:         flagListenAddr,
		configKeyStoreDriver:        flagStoreDriver,
		configKeyIssuingPartnerURL:  flagIssuingPartnerURL,
		configKeyRewardRates:        flagRewardRates,
		configKeyPaymentMaxAttempts: flagPaymentMaxAttempts,
		configKeyPaymentRetryDelay:  flagPaymentRetryDelay,
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flagBindings[key])); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(configKeyDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = strings.TrimSpace(v.GetString(configKeyListenAddr))
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(configKeyStoreDriver)))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverGorm
	}
	cfg.IssuingPartnerURL = strings.TrimSpace(v.GetString(configKeyIssuingPartnerURL))
	cfg.RewardRates = strings.TrimSpace(v.GetString(configKeyRewardRates))
	cfg.PaymentMaxAttempts = v.GetInt(configKeyPaymentMaxAttempts)
	cfg.PaymentRetryDelay = v.GetDuration(configKeyPaymentRetryDelay)
	return cfg.validate()
}

func (cfg *runtimeConfig) validate() error {
	switch cfg.StoreDriver {
	case storeDriverGorm:
	case storeDriverPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store driver %s requires a postgres database url", storeDriverPgx)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.PaymentMaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", flagPaymentMaxAttempts)
	}
	if cfg.PaymentRetryDelay < 0 {
		return fmt.Errorf("%s must not be negative", flagPaymentRetryDelay)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	options, err := buildServiceOptions(cfg, logger)
	if err != nil {
		return err
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	cards, err := ledger.NewCardManager(store, clock, options...)
	if err != nil {
		return fmt.Errorf("card manager init: %w", err)
	}
	payments, err := ledger.NewPaymentProcessor(store, clock, options...)
	if err != nil {
		return fmt.Errorf("payment processor init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	cardledgerv1.RegisterCardLedgerServiceServer(grpcServer, grpcserver.NewCardLedgerServer(cards, payments))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gRPC server starting",
			zap.String("listen_addr", cfg.ListenAddr),
			zap.String("store_driver", cfg.StoreDriver),
		)
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

func buildServiceOptions(cfg *runtimeConfig, logger *zap.Logger) ([]ledger.ServiceOption, error) {
	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(ledgerlog.NewZapOperationLogger(logger)),
		ledger.WithPaymentRetry(cfg.PaymentMaxAttempts, cfg.PaymentRetryDelay),
	}
	if cfg.RewardRates != "" {
		table, err := ledger.ParseRewardTable(cfg.RewardRates)
		if err != nil {
			return nil, err
		}
		options = append(options, ledger.WithRewardTable(table))
	}
	if cfg.IssuingPartnerURL != "" {
		partner, err := issuing.New(cfg.IssuingPartnerURL, issuing.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		options = append(options, ledger.WithIssuingPartner(partner))
	}
	return options, nil
}

func openStore(ctx context.Context, cfg *runtimeConfig) (ledger.Store, func(), error) {
	if cfg.StoreDriver == storeDriverPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), pool.Close, nil
	}

	gormDB, closeDB, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormDB.AutoMigrate(gormstore.Models()...); err != nil {
		_ = closeDB()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormstore.New(gormDB), func() { _ = closeDB() }, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case databaseDriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case databaseDriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	// Every SQLite connection to :memory: opens its own empty database, so the pool stays at one.
	if driver == databaseDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return databaseDriverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "cardledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseDriverSQLite, withBusyTimeout(sqlitePath), err
	}
	// Anything else is a plain sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return databaseDriverSQLite, withBusyTimeout(sqlitePath), err
}

func withBusyTimeout(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

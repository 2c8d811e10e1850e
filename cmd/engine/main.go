// Command engine runs the process engine HTTP server: admission, scheduling,
// and event fan-out for a single hacking-simulation game shard.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/greybox/hackcore/api"
	"github.com/greybox/hackcore/auth"
	"github.com/greybox/hackcore/config"
	"github.com/greybox/hackcore/engine"
	"github.com/greybox/hackcore/fanout"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
	"github.com/greybox/hackcore/validationcache"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config/env; defaults to :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; falls back to in-memory storage when empty)")
	configPath := flag.String("config", "", "path to a YAML config file")
	runMigrations := flag.Bool("migrate", true, "run the database migrations in ./migrations on startup (ignored for in-memory storage)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log0 := logging.New("process-engine", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New("process-engine")

	balance, caps, err := config.LoadBalance(cfg.BalanceFile)
	if err != nil {
		log.Fatalf("load balance table: %v", err)
	}

	dsnVal := resolveDSN(*dsn, cfg)

	var repo engine.Repository
	var db *sqlx.DB
	if dsnVal != "" {
		db, err = sqlx.Connect("postgres", dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

		if *runMigrations && cfg.Database.MigrateOnStart {
			if err := applyMigrations(db.DB, dsnVal); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		repo = engine.NewPostgresRepository(db)
	} else {
		log0.Info(context.Background(), "no DSN configured, using in-memory storage", nil)
		repo = engine.NewMemoryRepository()
	}
	if db != nil {
		defer db.Close()
	}

	hub := fanout.NewHub(log0, m)
	svc := engine.NewService(repo, hub, balance, log0, m)
	svc.RegisterServer(context.Background(), "default", caps)

	localCache := validationcache.New()
	verifier := buildVerifier(cfg, localCache, log0)

	server := api.NewServer(svc, hub, verifier, log0)
	router := api.NewRouter(server, verifier, log0, m, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	maint := engine.NewMaintenance(context.Background(), log0)
	maint.Register("fanout-sweep", "@every 30s", engine.SweeperFunc(func(context.Context) { hub.SweepDead() }))
	maint.Register("validation-cache-sweep", "@every 1m", engine.SweeperFunc(func(context.Context) { localCache.Sweep() }))
	maint.Start()
	defer maint.Stop()

	rootCtx, cancelScheduler := context.WithCancel(context.Background())
	if err := svc.Start(rootCtx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer cancelScheduler()

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{Addr: listenAddr, Handler: router}

	go func() {
		log0.Info(context.Background(), "process engine listening", map[string]interface{}{"addr": listenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelScheduler()
	svc.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// buildVerifier wires a two-tier validation cache in front of the JWT
// verifier when Redis is configured, and falls back to the local cache alone
// otherwise.
func buildVerifier(cfg *config.Config, local *validationcache.Cache, log0 *logging.Logger) *auth.Verifier {
	if cfg.Redis.Addr == "" {
		return auth.NewVerifier([]byte(cfg.Auth.JWTSecret), local)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log0.Error(context.Background(), "redis unreachable, falling back to local validation cache only", err, nil)
		return auth.NewVerifier([]byte(cfg.Auth.JWTSecret), local)
	}
	remote := validationcache.NewRemoteCache(client)
	return auth.NewVerifier([]byte(cfg.Auth.JWTSecret), validationcache.NewTwoTier(local, remote))
}

func applyMigrations(db *sql.DB, dsn string) error {
	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg.Server.Port != 0 {
		return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	return ":8080"
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if flagDSN != "" {
		return flagDSN
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	return cfg.Database.DSN
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"querygate/internal/api"
	"querygate/internal/catalog"
	"querygate/internal/config"
	internaldb "querygate/internal/db"
	"querygate/internal/db/repository"
	"querygate/internal/domain"
	"querygate/internal/middleware"
	"querygate/internal/service/exec"
	"querygate/internal/service/policy"
)

// seedMetastore populates the metastore with demo principals, groups, and
// access rules bound to the first catalog datasource. Idempotent — checks if
// data already exists.
func seedMetastore(ctx context.Context, logger *slog.Logger,
	principals *repository.PrincipalRepo, groups *repository.GroupRepo,
	rules *repository.AccessRuleRepo, cat *catalog.Catalog) error {

	// Check if already seeded
	existing, err := principals.List(ctx)
	if err != nil {
		return fmt.Errorf("list principals: %w", err)
	}
	if len(existing) > 0 {
		return nil // already seeded
	}

	// --- Principals ---
	if _, err := principals.Create(ctx, &domain.Principal{Name: "admin_user", IsAdmin: true}); err != nil {
		return fmt.Errorf("create admin_user: %w", err)
	}
	analyst, err := principals.Create(ctx, &domain.Principal{Name: "analyst1"})
	if err != nil {
		return fmt.Errorf("create analyst1: %w", err)
	}
	if _, err := principals.Create(ctx, &domain.Principal{Name: "no_access_user"}); err != nil {
		return fmt.Errorf("create no_access_user: %w", err)
	}

	// --- Groups ---
	analysts, err := groups.Create(ctx, &domain.Group{
		Name:        "analysts",
		Description: "Analysts with read-only query access",
	})
	if err != nil {
		return fmt.Errorf("create analysts group: %w", err)
	}
	if err := groups.AddMember(ctx, analysts.ID, analyst.ID); err != nil {
		return fmt.Errorf("add analyst1 to analysts: %w", err)
	}

	// --- Access rules ---
	// Grant the analysts read-only access to every configured datasource
	// through its first credential profile.
	maxRows := int64(1000)
	for _, ds := range cat.List() {
		rule := &domain.AccessRule{
			GroupID:           analysts.ID,
			DatasourceID:      ds.ID,
			CredentialProfile: ds.Profiles[0].Name,
			CanQuery:          true,
			ReadOnly:          true,
			MaxRows:           &maxRows,
		}
		if _, err := rules.Create(ctx, rule); err != nil {
			return fmt.Errorf("create access rule for %s: %w", ds.ID, err)
		}
	}

	logger.Info("metastore seeded with demo principals, groups, and access rules")
	return nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var logHandler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// Open SQLite metastore with hardened connection settings.
	// writeDB: single-connection pool for serialized writes (WAL + txlock=immediate).
	// readDB:  4-connection pool for concurrent reads (WAL, no txlock).
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer writeDB.Close()
	defer readDB.Close()

	// Run migrations on the write pool (DDL requires write access)
	if err := internaldb.RunMigrations(writeDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Create repositories — write-pool for repos that INSERT/UPDATE/DELETE,
	// read-pool for repos on the request path that only SELECT.
	principalRepo := repository.NewPrincipalRepo(writeDB)
	groupRepo := repository.NewGroupRepo(writeDB)
	ruleRepo := repository.NewAccessRuleRepo(writeDB)
	auditRepo := repository.NewAuditRepo(writeDB)

	principalReadRepo := repository.NewPrincipalRepo(readDB)
	groupReadRepo := repository.NewGroupRepo(readDB)
	ruleReadRepo := repository.NewAccessRuleRepo(readDB)

	// Load the datasource catalog and open the connection resolver over it.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load datasource catalog: %w", err)
	}
	logger.Info("datasource catalog loaded", "path", cfg.CatalogPath, "datasources", len(cat.List()))

	resolver := catalog.NewResolver(cat, logger)
	defer resolver.Close()

	// Seed demo data (writes, so use the write-pool repos)
	if err := seedMetastore(ctx, logger, principalRepo, groupRepo, ruleRepo, cat); err != nil {
		return fmt.Errorf("seed metastore: %w", err)
	}

	// Core services
	policies := policy.NewResolver(ruleReadRepo, cat, logger)
	manager := exec.NewManager(resolver, auditRepo, cfg.Query, logger)

	sweeper := exec.NewSweeper(manager, cfg.Query, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	// Setup Chi router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))

	// Public endpoints — no auth required
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Authenticated API routes under /v1 prefix
	handler := api.NewHandler(manager, policies, auditRepo, logger)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth([]byte(cfg.JWTSecret), principalReadRepo, groupReadRepo))
		handler.Register(r)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

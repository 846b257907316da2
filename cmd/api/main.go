package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/criadorlab/planner/backend/internal/handlers"
	"github.com/criadorlab/planner/backend/internal/instagram"
	"github.com/criadorlab/planner/backend/internal/metricsimport"
	"github.com/criadorlab/planner/backend/internal/middleware"
	"github.com/criadorlab/planner/backend/internal/workers"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

// deps collects the process-level effects so run() stays testable.
type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	notify         func(chan<- os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify: func(ch chan<- os.Signal) {
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		},
	}
}

func resolvePort(getenv func(string) string) string {
	port := getenv("PORT")
	if port == "" {
		port = "18911"
	}
	return port
}

// parseIntervalFromEnv reads a positive second count from key, falling back
// to def for missing, zero, negative, or unparsable values.
func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func migrateUp(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func buildRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")

	handlers.RegisterPlannerRoutes(h, r)
	handlers.RegisterBillingRoutes(h, r)

	return r
}

// startMetricsImportWorkersIfEnabled wires the provider metric pollers behind
// an env gate so tests and one-off environments stay quiet.
func startMetricsImportWorkersIfEnabled(ctx context.Context, db *sql.DB, getenv func(string) string) {
	if getenv("METRICS_IMPORT_WORKERS_ENABLED") != "true" {
		return
	}
	runner := &metricsimport.Runner{DB: db}
	interval := parseIntervalFromEnv(getenv, "METRICS_IMPORT_INSTAGRAM_INTERVAL_SECONDS", 15*time.Minute)
	go runner.StartProviderWorker(ctx, &instagram.Importer{DB: db}, interval)
}

func run(d deps) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	if d.getenv == nil {
		d.getenv = os.Getenv
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databaseURL := d.getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if d.openDB == nil {
		return fmt.Errorf("openDB dependency is required")
	}
	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if d.migrateUp != nil {
		if err := d.migrateUp(db); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Println("Database is up-to-date")
	}

	h := handlers.New(db)
	r := buildRouter(h)

	// Quota limits wrap the router; the access gate inside the store still
	// re-checks on every save.
	enforcer := middleware.NewSubscriptionEnforcer(db)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := c.Handler(enforcer.Middleware(r))

	port := resolvePort(d.getenv)
	srv := &http.Server{
		Handler:      handler,
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop)
	}

	// Background workers, each behind its own env gate.
	startMetricsImportWorkersIfEnabled(rootCtx, db, d.getenv)
	if d.getenv("INSIGHTS_REFRESH_ENABLED") == "true" {
		interval := parseIntervalFromEnv(d.getenv, "INSIGHTS_REFRESH_INTERVAL_SECONDS", 5*time.Minute)
		go h.StartInsightsWorker(rootCtx, interval)
		go (&workers.InsightsCacheJanitor{DB: db}).Start(rootCtx)
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if d.listenAndServe == nil {
		d.listenAndServe = func(s *http.Server) error { return s.ListenAndServe() }
	}
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

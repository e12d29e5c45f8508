// Command server exposes the simulation engine over HTTP: submit
// strategies, poll results, stream progress over WebSocket, and browse
// archived runs.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/observability"
	"portfolio-lab/internal/reporting"
	"portfolio-lab/internal/storage"
	"portfolio-lab/internal/storage/memory"
	"portfolio-lab/internal/storage/migrations"
	pgstore "portfolio-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML server config")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dataDir := flag.String("data-dir", os.Getenv("DATA_DIR"), "CSV market data directory (overrides config)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "Result archive DSN (overrides config)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *postgresDSN != "" {
		cfg.PostgresDSN = *postgresDSN
	}
	if cfg.DataDir == "" {
		logger.Fatal("data_dir is required (flag --data-dir or config)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	source, err := marketdata.LoadCSVDir(cfg.DataDir)
	if err != nil {
		logger.Fatalf("load market data: %v", err)
	}
	logger.Printf("market data loaded from %s", cfg.DataDir)

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		runs   storage.RunStore    = memory.NewRunStore()
		trades storage.TradeStore  = memory.NewTradeStore()
		equity storage.EquityStore = memory.NewEquityStore()
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		runs = pgstore.NewRunStore(pool)
		trades = pgstore.NewTradeStore(pool)
		equity = pgstore.NewEquityStore(pool)
		logger.Print("result archive: postgres")
	} else {
		logger.Print("result archive: in-memory")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)
	hub := NewHub(logger, metrics)
	manager := NewJobManager(source, runs, trades, equity, metrics, hub)

	go func() {
		logger.Printf("metrics on %s/metrics", cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler(registry))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server: %v", err)
		}
	}()

	router := newRouter(manager, runs, trades, equity, hub, metrics)

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	server := &http.Server{Addr: cfg.Addr, Handler: corsWrapper.Handler(router)}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Printf("listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

func newRouter(manager *JobManager, runs storage.RunStore, trades storage.TradeStore,
	equity storage.EquityStore, hub *Hub, metrics *observability.Metrics) *gin.Engine {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	count := func(route string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Next()
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		}
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	api.POST("/simulations", count("submit"), func(c *gin.Context) {
		cfg, err := domain.DecodeStrategyConfig(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job := manager.Submit(cfg)
		c.JSON(http.StatusAccepted, job)
	})

	api.GET("/simulations", count("list"), func(c *gin.Context) {
		c.JSON(http.StatusOK, manager.List())
	})

	api.GET("/simulations/:id", count("get"), func(c *gin.Context) {
		job, ok := manager.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
			return
		}
		if job.Result == nil {
			c.JSON(http.StatusOK, job)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": job, "result": job.Result})
	})

	api.GET("/simulations/:id/trades.csv", count("trades_csv"), func(c *gin.Context) {
		job, ok := manager.Get(c.Param("id"))
		if !ok || job.Result == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result"})
			return
		}
		c.Data(http.StatusOK, "text/csv", []byte(reporting.RenderTradesCSV(job.Result.Trades)))
	})

	api.GET("/simulations/:id/equity.csv", count("equity_csv"), func(c *gin.Context) {
		job, ok := manager.Get(c.Param("id"))
		if !ok || job.Result == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result"})
			return
		}
		c.Data(http.StatusOK, "text/csv", []byte(reporting.RenderEquityCSV(job.Result.EquityCurve)))
	})

	// Archived runs survive process restarts when Postgres is wired.
	api.GET("/runs", count("runs"), func(c *gin.Context) {
		list, err := runs.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.GET("/runs/:id", count("run"), func(c *gin.Context) {
		run, err := runs.GetByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		runTrades, err := trades.GetByRunID(c.Request.Context(), run.RunID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		curve, err := equity.GetByRunID(c.Request.Context(), run.RunID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "trades": runTrades, "equity": curve})
	})

	router.GET("/ws/progress", func(c *gin.Context) {
		hub.Serve(c.Writer, c.Request)
	})

	return router
}

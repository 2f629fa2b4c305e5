package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"marketsim/internal/config"
	"marketsim/internal/dao"
	"marketsim/internal/database"
	"marketsim/internal/engine"
	"marketsim/internal/handlers"
	"marketsim/internal/market"
	"marketsim/internal/stream"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.DateTime,
		}),
	))

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// Sessions survive restarts only when a database is configured.
	var sessionDAO dao.SessionDAOInterface
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		sessionDAO = dao.NewSessionDAO(db)
	}

	source, err := market.NewSource(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create candle source", "error", err)
		os.Exit(1)
	}

	hub := stream.NewHub()
	manager := engine.NewManager(source, hub, sessionDAO)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// CORS middleware for development
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	healthHandler := handlers.NewHealthHandler()
	marketHandler := handlers.NewMarketHandler(source)
	sessionHandler := handlers.NewSessionHandler(manager)
	streamHandler := handlers.NewStreamHandler(hub)

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/health", healthHandler.Health)

		market := api.Group("/market")
		{
			market.GET("/candles", marketHandler.GetCandles)
		}

		handlers.RegisterSessionRoutes(api, sessionHandler, streamHandler)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "starting server",
			"listen_address", cfg.ListenAddress, "provider", cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server gracefully")
		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "error", err)
	}
}

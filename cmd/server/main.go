package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/agent"
	"github.com/polzovatel/browser-pilot/internal/artifacts"
	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/channel"
	"github.com/polzovatel/browser-pilot/internal/config"
	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := llm.NewClientWithLogger(logger)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	logger.Info().Str("provider", client.Name()).Msg("llm client ready")

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	launcher, err := browser.NewLauncher(ctx, cfg.Headless)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer launcher.Close()

	hub := channel.NewHub(logger)
	shots := artifacts.NewManager(cfg.ArtifactsDir)
	orch := agent.NewOrchestrator(&cfg, launcher, client, hub, db, shots, logger)
	hub.SetHandler(orch)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", hub.Serve)
	router.Static("/artifacts", cfg.ArtifactsDir)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": orch.Sessions()})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

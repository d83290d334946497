package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/manpreetbhatti/coderoom/internal/api"
	"github.com/manpreetbhatti/coderoom/internal/autosave"
	"github.com/manpreetbhatti/coderoom/internal/config"
	"github.com/manpreetbhatti/coderoom/internal/db"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/ws"
	"github.com/manpreetbhatti/coderoom/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Log.Level, cfg.Log.Development)
	logger.SetGlobal(log)
	defer log.Sync()

	store, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize version archive: %v", err)
	}

	registry := room.NewRegistry()
	hub := ws.NewHub(registry).WithRateLimit(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.MessageBurst)
	go hub.Run()

	var saver *autosave.Service
	if store != nil {
		saver = autosave.New(registry, store, autosave.Config{
			Interval: cfg.Autosave.Interval,
			Keep:     cfg.Autosave.Keep,
		})
		saver.Start()
	}

	createLimiter := ratelimit.NewClientLimiters(
		ratelimit.PerMinute(cfg.RateLimit.CreateRoomsPerMinute),
		cfg.RateLimit.CreateRoomsPerMinute,
	)

	apiHandler := api.New(hub, store, api.Options{
		PublicDir:         cfg.Server.PublicDir,
		PublicURL:         cfg.Server.PublicURL,
		CreateRoomLimiter: createLimiter,
		TrustProxy:        cfg.Server.TrustProxy,
		AutosaveKeep:      cfg.Autosave.Keep,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiHandler.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("🚀 CodeRoom server starting on :%s", cfg.Server.Port)
		logger.Info("📁 Static pages: %s", cfg.Server.PublicDir)
		logger.Info("Endpoints:\n%s", endpointTable())

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ListenAndServe: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}

	hub.Stop()
	createLimiter.Stop()
	if saver != nil {
		saver.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close version archive: %v", err)
		}
	}

	logger.Info("Server stopped")
}

// openStore picks Postgres when a URL is configured, sqlite otherwise, or
// nothing when the archive is disabled.
func openStore(cfg config.DatabaseConfig) (db.Store, error) {
	if !cfg.Enabled {
		logger.Info("Version archive disabled")
		return nil, nil
	}

	if cfg.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := db.NewPostgresDB(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}

	sqlite, err := db.New(cfg.Path)
	if err != nil {
		return nil, err
	}
	return sqlite, nil
}

func endpointTable() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Endpoint", "Method", "Path"})
	for _, e := range api.Endpoints() {
		t.AppendRow(table.Row{e.Name, e.Method, e.Path})
	}
	return t.Render()
}

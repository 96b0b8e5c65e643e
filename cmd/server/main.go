package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	kbwebui "github.com/northlight-labs/kb-web-ui"
	"github.com/northlight-labs/kb-web-ui/internal/handlers"
	"github.com/northlight-labs/kb-web-ui/internal/liveness"
	"github.com/northlight-labs/kb-web-ui/internal/metrics"
	"github.com/northlight-labs/kb-web-ui/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "kb-web-ui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
	if err != nil {
		panic(err)
	}
	defer boltDB.Close()

	kb := services.NewKnowledgeBase(cfg.BackendURL, cfg.Project, cfg.GroqAPIKey, logger)

	monitor := liveness.NewMonitor(func(ctx context.Context) error {
		err := kb.Health(ctx)
		metrics.ObserveProbe(err == nil)
		return err
	}, liveness.Options{}, logger)

	m, err := handlers.NewMain(kb, boltDB, monitor, logger)
	if err != nil {
		panic(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(kbwebui.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/cancel", m.HandleChatCancel)
	mux.HandleFunc("/upload", m.HandleUpload)
	mux.HandleFunc("/upload/cancel", m.HandleUploadCancel)
	mux.HandleFunc("/health/retry", m.HandleHealthRetry)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.Handle("/metrics", promhttp.Handler())

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		monitor.Dispose()

		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	m.StartStatusPump()
	monitor.Start()

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/classify"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/handlers"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workers"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	log.Printf("Ensuring workspaces root exists: %s", cfg.WorkspacesPath)
	if err := os.MkdirAll(cfg.WorkspacesPath, 0755); err != nil {
		log.Fatalf("FATAL: Failed to create workspaces root %s: %v", cfg.WorkspacesPath, err)
	}

	manager := workspace.NewManager(cfg)
	defer manager.Close()

	log.Printf("Initializing thumbnail warm-up pool (Workers: %d, Queue Size: %d)...", cfg.NumThumbnailWorkers, cfg.ThumbnailQueueSize)
	warmer := workers.NewThumbnailWarmer(cfg.ThumbnailWidth, cfg.ThumbnailQueueSize, cfg.NumThumbnailWorkers)
	defer warmer.Stop()

	detector := classify.NewClient(cfg.DetectorURL, cfg.DetectorTimeout)
	compressor := &media.Compressor{
		Enabled:     cfg.CompressEnabled,
		JPEGQuality: cfg.JPEGQuality,
		PNGLevel:    cfg.PNGCompression,
		MinBytes:    cfg.CompressMinBytes,
	}

	log.Printf("Index store backend: %s", cfg.DBDriver)
	log.Printf("Detector: %s (timeout %s)", cfg.DetectorURL, cfg.DetectorTimeout)
	log.Printf("Compression enabled: %t (jpeg quality %d, min %d bytes)", cfg.CompressEnabled, cfg.JPEGQuality, cfg.CompressMinBytes)

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	corsHandler := cors.New(corsOptions)

	// a process step may wait on the detector for its full timeout
	requestTimeout := cfg.DetectorTimeout + 30*time.Second

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(corsHandler.Handler)

	handlers.Mount(r, handlers.Deps{
		Cfg:        cfg,
		Manager:    manager,
		Detector:   detector,
		Converter:  media.NewHEICConverter(cfg.JPEGQuality),
		Compressor: compressor,
		Warmer:     warmer,
	})

	serverAddr := ":" + cfg.Port
	fmt.Printf("Server starting on http://localhost:%s\n", cfg.Port)
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

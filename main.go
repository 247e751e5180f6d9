// vidvault/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vidvault/api"
	"vidvault/config"
	"vidvault/extract"
	"vidvault/progress"
	"vidvault/storage"
	"vidvault/task"
	"vidvault/worker"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// 2. Initialize dependencies
	store, err := task.NewStore(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to initialize task store", zap.Error(err))
	}
	defer store.Close()

	extractor, err := extract.NewYtdlp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize extractor", zap.Error(err))
	}

	sink, err := storage.NewSupabase(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	// Progress reporting is optional; without Redis the worker runs with
	// a no-op reporter and the status API omits live progress.
	var reporter progress.Reporter = progress.Nop{}
	var progressSource api.ProgressSource
	if cfg.RedisAddr != "" {
		redisReporter, err := progress.NewRedisReporter(cfg.RedisAddr, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisReporter.Close()
		reporter = redisReporter
		progressSource = redisReporter
	}

	// 3. Set up router and server
	handler := api.NewHandler(store, extractor, sink, progressSource, cfg, log)
	router := api.SetupRouter(handler, cfg, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 4. Start the worker and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc := worker.New(cfg, store, extractor, sink, reporter, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		proc.Run(ctx)
	}()

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 5. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	log.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// The worker stops between tasks; an in-flight attempt is cut off by
	// its context and the claimed row keeps its processing status.
	<-workerDone
	log.Info("server exiting")
}

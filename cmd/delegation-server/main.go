package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	server "github.com/taskmesh/delegation/internal"
	"github.com/taskmesh/delegation/internal/assignment"
	assignmentrepo "github.com/taskmesh/delegation/internal/assignment/repositoryimpl"
	"github.com/taskmesh/delegation/internal/config"
	"github.com/taskmesh/delegation/internal/engine"
	"github.com/taskmesh/delegation/internal/event"
	"github.com/taskmesh/delegation/internal/eventbus"
	"github.com/taskmesh/delegation/internal/worker"
	workerrepo "github.com/taskmesh/delegation/internal/worker/repositoryimpl"
	"github.com/taskmesh/delegation/pkg/clog"
	"github.com/taskmesh/delegation/pkg/panicerr"
	"github.com/taskmesh/delegation/pkg/storage"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "sentinel" {
		runSentinel()
		return
	}
	run()
}

func run() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories and services
	workerRepo := workerrepo.NewYAMLRepository(store)
	assignmentRepo := assignmentrepo.NewYAMLRepository(store)

	registry := worker.NewRegistry(workerRepo, bus)
	lifecycleStore := assignment.NewStore(assignmentRepo, registry, bus)
	eng := engine.New(registry, lifecycleStore)

	// Re-derive load counters from active assignments before serving.
	if err := eng.ReconcileLoads(context.Background()); err != nil {
		slog.Error("failed to reconcile worker loads", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(
		env,
		worker.NewServer(registry),
		engine.NewServer(eng),
		event.NewServer(bus),
	)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go func() {
		err := panicerr.SafeContext(srv.ListenAndServe)(ctx)
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

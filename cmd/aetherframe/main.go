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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/aetherframe/aetherframe/internal/api"
	"github.com/aetherframe/aetherframe/internal/config"
	"github.com/aetherframe/aetherframe/internal/logging"
	"github.com/aetherframe/aetherframe/internal/orchestrator"
	"github.com/aetherframe/aetherframe/internal/pipeline"
	"github.com/aetherframe/aetherframe/internal/plugin"
	"github.com/aetherframe/aetherframe/internal/plugins"
	"github.com/aetherframe/aetherframe/internal/queue"
	"github.com/aetherframe/aetherframe/internal/storage"
	"github.com/aetherframe/aetherframe/internal/store"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		return
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	switch os.Args[1] {
	case "serve":
		run(cfg, serve)
	case "work":
		run(cfg, work)
	case "migrate":
		run(cfg, migrate)
	case "version":
		fmt.Println("aetherframe v" + version)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("aetherframe v" + version)
	fmt.Println("Usage: aetherframe <serve|work|migrate|version>")
}

// run executes a subcommand under a signal-cancelled context.
func run(cfg *config.Config, cmd func(ctx context.Context, cfg *config.Config) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		stop()
		os.Exit(1)
	}
}

// serve runs the API process. With the memory queue driver there is no
// broker a separate worker could reach, so an embedded worker pool runs
// in-process; with redis the workers are expected to run under `work`.
func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	catalogue := pipeline.Builtin()

	samples, err := storage.NewLocalSampleStore(cfg.Paths.SamplesDir)
	if err != nil {
		return fmt.Errorf("sample store: %w", err)
	}

	srv := api.NewServer(st, q, catalogue, logging.WithComponent("api"))
	srv.SetSampleStore(samples)
	srv.SetEnvironment(cfg.Environment)
	srv.SetDefaultPipeline(cfg.Orchestrator.DefaultPipeline)
	srv.SetCORSOrigins(cfg.CORSOrigins)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api listening", "addr", httpSrv.Addr, "environment", cfg.Environment)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.Queue.Driver != "redis" {
		worker, err := buildWorker(cfg, st, q)
		if err != nil {
			return err
		}
		slog.Info("embedded worker enabled", "queue_driver", cfg.Queue.Driver)
		g.Go(func() error { return worker.Run(ctx) })
	}

	return g.Wait()
}

// work runs the worker pool process with the maintenance janitor.
func work(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	worker, err := buildWorker(cfg, st, q)
	if err != nil {
		return err
	}

	layout, err := storage.NewLayout(cfg.Paths.WorkspaceBase, cfg.Paths.ArtifactsBase)
	if err != nil {
		return err
	}
	janitor := orchestrator.NewJanitor(st, layout, cfg.Orchestrator.StaleJobTimeout, logging.WithComponent("janitor"))
	if err := janitor.Start(cfg.Orchestrator.SweepSchedule); err != nil {
		return err
	}
	defer janitor.Stop()

	return worker.Run(ctx)
}

// migrate applies pending schema migrations and exits.
func migrate(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("migrations applied", "driver", cfg.Database.Driver)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return queue.NewRedis(ctx, cfg.Queue.Addr, cfg.Queue.Password, cfg.Queue.Name)
	case "memory", "":
		return queue.NewMemory(0), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// buildWorker assembles the registry, orchestrator, and pool shared by
// the work subcommand and serve's embedded worker.
func buildWorker(cfg *config.Config, st *store.Store, q queue.Queue) (*orchestrator.Worker, error) {
	registry := plugin.NewRegistry(logging.WithComponent("registry"))
	if err := plugins.Register(registry); err != nil {
		return nil, err
	}
	if dir := cfg.Paths.PluginsDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			if _, err := registry.Discover(os.DirFS(dir)); err != nil {
				slog.Warn("plugin discovery", "dir", dir, "error", err)
			}
		}
	}

	layout, err := storage.NewLayout(cfg.Paths.WorkspaceBase, cfg.Paths.ArtifactsBase)
	if err != nil {
		return nil, err
	}

	catalogue := pipeline.Builtin()
	orch := orchestrator.New(st, layout, registry, catalogue, logging.WithComponent("orchestrator"))
	orch.CleanupWorkspace = cfg.Orchestrator.CleanupWorkspace

	return orchestrator.NewWorker(q, orch, cfg.Orchestrator.MaxConcurrentJobs, logging.WithComponent("worker")), nil
}

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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regrun/internal/config"
	"regrun/internal/httpapi"
	"regrun/internal/logging"
	"regrun/internal/logscan"
	"regrun/internal/provision"
	"regrun/internal/reconcile"
	"regrun/internal/records"
	"regrun/internal/scheduler"
	"regrun/internal/suite"
	"regrun/pkg/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "regrun",
		Short:         "Regression matrix runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.AddCommand(serve)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "regrun:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 1. 持久化层
	persist, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer persist.Close()

	rs := records.New(persist, logger)
	if err := rs.Restore(ctx); err != nil {
		logger.Warn("restore records", zap.Error(err))
	}

	// 2. 调度后端
	sched, err := openScheduler(cfg.Scheduler, logger)
	if err != nil {
		return err
	}
	mode, err := scheduler.ParseMatchMode(cfg.Scheduler.Match)
	if err != nil {
		return err
	}

	// 3. 对账器 + 业务层
	tail := logscan.NewTailReader(logscan.RetryPolicy{
		Attempts: cfg.Tail.Attempts,
		Delay:    cfg.Tail.Delay,
	}, logger)
	rec := reconcile.New(rs, sched, tail, reconcile.Options{
		LogFile:     cfg.Workspace.LogFile,
		MatchMode:   mode,
		Parallelism: cfg.Scheduler.Parallelism,
	}, logger)
	prov := provision.New(provision.Options{
		TemplateDir: cfg.Workspace.TemplateDir,
		WorkRoot:    cfg.Workspace.WorkRoot,
		ScratchRoot: cfg.Workspace.ScratchRoot,
	}, logger)
	manager := suite.NewManager(rs, prov, sched, rec, logger)

	if cfg.Server.PollInterval > 0 {
		go reconcile.NewPoller(rec, cfg.Server.PollInterval).Run(ctx)
	}

	// 4. HTTP
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(manager, cfg.Server.MaxUploadBytes, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr),
			zap.String("scheduler", cfg.Scheduler.Backend), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// 优雅退出
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "etcd":
		m, err := store.NewEtcdManager(cfg.EtcdEndpoints, cfg.DialTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		return m, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func openScheduler(cfg config.SchedulerConfig, logger *zap.Logger) (scheduler.Scheduler, error) {
	switch cfg.Backend {
	case "docker":
		d, err := scheduler.NewDocker(scheduler.DockerOptions{
			Image:         cfg.Docker.Image,
			Command:       cfg.Docker.Command,
			BuildFile:     cfg.BuildFile,
			SubmitTimeout: cfg.SubmitTimeout,
			ListTimeout:   cfg.ListTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		return d, nil
	default:
		return scheduler.NewLSF(scheduler.LSFOptions{
			SubmitCommand: cfg.SubmitCommand,
			ListCommand:   cfg.ListCommand,
			BuildFile:     cfg.BuildFile,
			SubmitTimeout: cfg.SubmitTimeout,
			ListTimeout:   cfg.ListTimeout,
		}, logger), nil
	}
}

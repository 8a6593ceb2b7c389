package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shortlink/internal/cache"
	"shortlink/internal/config"
	"shortlink/internal/handler"
	"shortlink/internal/logger"
	"shortlink/internal/metrics"
	"shortlink/internal/repository"
	"shortlink/internal/service"
	"shortlink/internal/util"
)

var rootCmd = &cobra.Command{
	Use:           "shortlink",
	Short:         "URL shortener backed by Postgres with a Redis cache",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("env-file")
		loaded, err := config.LoadDotEnv(path)
		if err != nil {
			return err
		}
		if !loaded && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("env file %q not found", path)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a .env file; a missing default file is ignored")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}()
	log.Info("database connected", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))

	if cfg.Database.MigrateOnStart {
		if err := migrateUp(cfg, log); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	c := cache.New(connectRedis(ctx, cfg.Redis, log), cfg.Redis.TTL, cfg.Redis.OpTimeout, log, m)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}()

	repo := repository.NewRepo(db, cfg.Database.QueryTimeout)

	codes, err := util.NewCodeGenerator(cfg.Shortener.Strategy, cfg.Shortener.CodeLength, repo.NextSequence)
	if err != nil {
		return err
	}

	clicks := service.NewClickAccountant(repo, c, cfg.Clicks, log, m)
	clicks.Start()

	svc := service.NewService(repo, c, codes, clicks, log, m)
	h := handler.NewHandler(svc, cfg.Server.BaseURL, log, m)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.String("strategy", codes.Strategy()),
			zap.Bool("cache", c.Enabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := clicks.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server gracefully stopped")
	return nil
}

// connectRedis returns nil when the cache is disabled or unreachable at
// startup; the service then runs against the store alone.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) cache.Client {
	if !cfg.Enabled() {
		log.Info("redis disabled")
		return nil
	}

	rdb := cache.NewClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout*5)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed, running without cache", zap.String("addr", cfg.Addr()), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	log.Info("redis connected", zap.String("addr", cfg.Addr()))
	return rdb
}

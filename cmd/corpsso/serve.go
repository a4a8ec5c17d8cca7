package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dpleshakov/corpsso/internal/api"
	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/sweep"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	var (
		states auth.StateStore
		purger sweep.StatePurger
	)
	switch cfg.StateStore.Backend {
	case "redis":
		rdb, err := newRedisClient(ctx, cfg.StateStore.RedisAddr, cfg.StateStore.RedisPassword, cfg.StateStore.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck
		states = auth.NewRedisStateStore(rdb)
	default:
		mem := auth.NewMemoryStateStore()
		states, purger = mem, mem
	}

	if cfg.Admin.Username != "" {
		created, err := a.accounts.BootstrapAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
		if err != nil {
			return err
		}
		if created {
			logger.Info("super admin created", zap.String("username", cfg.Admin.Username))
		}
	}

	var webRoot fs.FS
	if cfg.WebRoot != "" {
		webRoot = os.DirFS(cfg.WebRoot)
	}

	sweeper := sweep.New(a.accounts, purger, cfg.SweepInterval.Duration, logger)

	router := api.NewRouter(api.Options{
		Auth:              auth.NewService(a.sso, a.esi, states, a.sessions, cfg.AuthStateTTL.Duration, logger),
		Accounts:          a.accounts,
		Registry:          a.registry,
		Sessions:          a.sessions,
		Cookies:           api.NewCookieStore([]byte(cfg.SessionSecret), strings.HasPrefix(cfg.ESI.CallbackURL, "https://"), cfg.SessionTTL.Duration),
		CallbackPath:      cfg.CallbackPath(),
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Sweeper:           sweeper,
		WebRoot:           webRoot,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The sweeper runs an initial cycle immediately, then ticks every SweepInterval.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(sweepCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		// Give in-flight HTTP requests up to 10 seconds to finish.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown", zap.Error(err))
		}
		cancelSweep()
	}()

	logger.Info("corpsso listening",
		zap.Int("port", cfg.Port),
		zap.String("callback", cfg.CallbackPath()),
		zap.String("state_store", cfg.StateStore.Backend),
		zap.String("version", version))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancelSweep()
		wg.Wait()
		return fmt.Errorf("server: %w", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

func newRedisClient(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

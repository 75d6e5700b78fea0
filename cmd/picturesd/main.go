// Command picturesd serves the picture selector over a WebSocket.
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

	"github.com/ggoodman/wsrpc/broker"
	brokermem "github.com/ggoodman/wsrpc/broker/memory"
	brokerredis "github.com/ggoodman/wsrpc/broker/redis"
	"github.com/ggoodman/wsrpc/pictures"
	"github.com/ggoodman/wsrpc/server"
	"github.com/ggoodman/wsrpc/storage"
	storagemem "github.com/ggoodman/wsrpc/storage/memory"
	storageredis "github.com/ggoodman/wsrpc/storage/redis"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, store, err := backends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	defer store.Close()

	catalog, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	svc := pictures.NewService(catalog, store, b,
		pictures.WithLogger(log),
		pictures.WithIdleTTL(cfg.IdleTTL),
	)

	opts := []server.Option{
		server.WithLogger(log),
		server.WithBroker(b),
		server.WithPruneInterval(cfg.PruneInterval),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, server.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}
	sup := server.NewSupervisor(svc.NewSession, opts...)

	srv := &http.Server{
		Addr:     cfg.Addr,
		Handler:  server.Handler(sup, server.WithHandlerLogger(log)),
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- sup.Run(ctx) }()
	go func() { errCh <- svc.Watch(ctx) }()
	go func() {
		log.Info("picturesd.listen", slog.String("addr", cfg.Addr), slog.Int("pictures", catalog.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("picturesd.http.fail", slog.String("err", err.Error()))
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	log.Info("picturesd.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newCatalog(cfg *Config) (*pictures.Catalog, error) {
	if cfg.AssetsDir == "" {
		return pictures.NewStaticCatalog(pictures.DefaultPictures...), nil
	}
	return pictures.NewDirCatalog(cfg.AssetsDir)
}

// backends returns Redis-backed broker and storage when REDIS_ADDR is set,
// in-memory ones otherwise.
func backends(ctx context.Context, cfg *Config) (broker.Broker, storage.Storage, error) {
	if cfg.RedisAddr == "" {
		store, err := storagemem.New(1024)
		if err != nil {
			return nil, nil, err
		}
		return brokermem.New(), store, nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	probe := redis.NewClient(opts)
	if err := probe.Ping(ctx).Err(); err != nil {
		_ = probe.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	_ = probe.Close()

	b := brokerredis.New(brokerredis.Config{
		Client:    redis.NewClient(opts),
		KeyPrefix: cfg.KeyPrefix + "broker:",
	})
	store, err := storageredis.New(storageredis.Config{
		Client:    redis.NewClient(opts),
		KeyPrefix: cfg.KeyPrefix + "storage:",
	})
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return b, store, nil
}

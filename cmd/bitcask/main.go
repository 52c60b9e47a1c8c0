package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/0xRadioAc7iv/keycask/core"
	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/logging"
	"github.com/0xRadioAc7iv/keycask/internal/server"
	"github.com/0xRadioAc7iv/keycask/internal/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error while starting:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := utils.HandleCLIInputs(args)
	if err != nil {
		return err
	}

	cfg, err := internal.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv, slog.Default())
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	if !utils.PathExists(cfg.DataDir) {
		logger.Info("Data directory does not exist! Creating one...", "dir", cfg.DataDir)
	}

	bk, err := core.Open(core.Options{
		Dir:            cfg.DataDir,
		KeyDirSize:     cfg.KeyDirSize,
		KeyDirMaxSize:  cfg.KeyDirMaxSize,
		MaxSegmentSize: cfg.MaxSegmentSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer bk.Close()

	expvar.Publish("keycask", bk.Metrics())

	ln, err := server.Listen(cfg)
	if err != nil {
		return err
	}

	ctx, stop := utils.ListenForProcessInterruptOrKill(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	handler := core.NewHandler(bk, cfg.MaxMessageSize, logger)
	g.Go(func() error {
		return server.Serve(gctx, ln, handler.ServeConn, server.Options{
			MaxConnections: cfg.MaxConnections,
			Logger:         logger,
		})
	})

	if every := cfg.SyncEvery(logger); every > 0 {
		g.Go(func() error {
			syncPeriodically(gctx, bk, every, logger)
			return nil
		})
	}

	if cfg.DebugAddress != "" {
		g.Go(func() error {
			return serveDebug(gctx, cfg.DebugAddress, logger)
		})
	}

	logger.Info("Bitcask started successfully", "address", ln.Addr().String(), "dir", cfg.DataDir)

	err = g.Wait()
	logger.Info("Shutting down", "keys", bk.Len())
	return err
}

// syncPeriodically flushes the active segment every interval until ctx
// is done.
func syncPeriodically(ctx context.Context, bk *core.Bitcask, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bk.Sync(); err != nil {
				logger.Error("Error syncing active segment", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// serveDebug exposes expvar's /debug/vars on addr until ctx is done.
func serveDebug(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Debug endpoint listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug endpoint: %w", err)
	}
	return nil
}

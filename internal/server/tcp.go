package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/0xRadioAc7iv/keycask/internal"
)

// HandlerFunc serves one accepted connection. It owns conn and must close
// it; ctx is cancelled when the server shuts down.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// Options configures Serve.
type Options struct {
	// MaxConnections bounds the number of connections served at once.
	// Further clients wait in the listen backlog. <= 0 means unlimited.
	MaxConnections int
	Logger         *slog.Logger
}

// Listen opens the TCP listener described by cfg. The network follows
// cfg.IPVersion; an empty host listens on every interface.
func Listen(cfg *internal.Config) (net.Listener, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	ln, err := net.Listen(cfg.Network(), addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s (%s): %w", addr, cfg.Network(), err)
	}

	return ln, nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// nextAcceptDelay doubles the wait after each consecutive Accept failure,
// starting at minAcceptDelay and capped at maxAcceptDelay.
func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(2*d, maxAcceptDelay)
}

// Serve accepts connections on ln and runs handler for each in its own
// goroutine. It returns nil after ctx is cancelled, once the listener is
// closed, every open connection has been closed and all handlers have
// returned.
func Serve(ctx context.Context, ln net.Listener, handler HandlerFunc, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	var sem *semaphore.Weighted
	if opts.MaxConnections > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConnections))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)

	// When ctx is cancelled, close listener and every open connection
	go func() {
		<-ctx.Done()
		ln.Close()

		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	}()

	logger.Info("Server listening", "address", ln.Addr().String(), "max_connections", opts.MaxConnections)

	var (
		serveErr error
		delay    time.Duration // backoff after a failed Accept
	)

	// Accept Loop
	for {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if sem != nil {
				sem.Release(1)
			}
			// When ln.Close() is called, Accept() returns an error.
			// This is how we break out of the loop cleanly.
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			delay = nextAcceptDelay(delay)
			logger.Warn("Error accepting connection", "error", err, "retry_in", delay)

			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			conn.Close()
			if sem != nil {
				sem.Release(1)
			}
			break
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
				if sem != nil {
					sem.Release(1)
				}
			}()

			handler(ctx, conn)
		}()
	}

	cancel()
	wg.Wait()

	logger.Info("Server stopped")
	return serveErr
}

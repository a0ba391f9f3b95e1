package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unitherd/unitherd/internal/metrics"
	"github.com/unitherd/unitherd/internal/server"
)

// Serve runs the supervisor with the HTTP API attached. The API serves
// status, lifecycle operations, logs and Prometheus metrics; unit
// monitoring runs alongside it until the process is interrupted.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.Daemon {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return err
		}
		if err := daemonize(filepath.Join(cfg.LogDir, "unitherd.out.log")); err != nil {
			return err
		}
	}
	listen := cfg.Server.Listen
	if f.Listen != "" {
		listen = f.Listen
	}
	basePath := cfg.Server.BasePath
	if f.BasePath != "" {
		basePath = f.BasePath
	}

	sup, cleanup, err := c.supervisor()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	srv, err := server.NewServer(listen, basePath, sup, cfg.Server.TLS)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		scheme := "http"
		if srv.TLSConfig != nil {
			scheme = "https"
		}
		slog.Info("api listening", "addr", listen, "base_path", basePath, "scheme", scheme)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := sup.StartAll(ctx); err != nil {
		slog.Warn("some units failed to start, monitoring the rest", "error", err)
	}

	monErr := make(chan error, 1)
	go func() { monErr <- sup.Monitor(ctx) }()

	select {
	case err := <-errCh:
		stop()
		<-monErr
		return err
	case err := <-monErr:
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return err
	}
}

// Package unitherd exposes the supervisor for embedding: load a
// directory of KEY=VALUE unit files, start and monitor the declared
// processes, and optionally serve the HTTP API from the host program.
package unitherd

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/unitherd/unitherd/internal/config"
	"github.com/unitherd/unitherd/internal/history"
	"github.com/unitherd/unitherd/internal/metrics"
	iapi "github.com/unitherd/unitherd/internal/server"
	isup "github.com/unitherd/unitherd/internal/supervisor"
	"github.com/unitherd/unitherd/internal/unit"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = unit.Spec

type Status = isup.Row

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *isup.Supervisor }

// New builds a supervisor from a normalized config. Use LoadConfig or
// NewFromDir unless you assembled the config yourself.
func New(c *Config) (*Supervisor, error) {
	inner, err := isup.New(c)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

// NewFromDir builds a supervisor rooted at baseDir with the default
// layout: baseDir/services, baseDir/log, baseDir/run.
func NewFromDir(baseDir string) (*Supervisor, error) {
	c := cfg.Default()
	c.BaseDir = baseDir
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	return New(c)
}

func (s *Supervisor) StartAll(ctx context.Context) error   { return s.inner.StartAll(ctx) }
func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.inner.Start(ctx, name)
}
func (s *Supervisor) StopAll(ctx context.Context) error { return s.inner.StopAll(ctx) }
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	return s.inner.Stop(ctx, name)
}
func (s *Supervisor) RestartAll(ctx context.Context) error { return s.inner.RestartAll(ctx) }
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.inner.Restart(ctx, name)
}
func (s *Supervisor) Reload(ctx context.Context) error { return s.inner.Reload(ctx) }
func (s *Supervisor) Status() ([]Status, error)        { return s.inner.Status() }
func (s *Supervisor) Units() ([]Spec, error)           { return s.inner.Units() }

// Monitor blocks, restarting dead restartable units, until ctx is done.
func (s *Supervisor) Monitor(ctx context.Context) error { return s.inner.Monitor(ctx) }

func (s *Supervisor) TailLogs(name string, n int) ([]string, error) {
	return s.inner.TailLogs(name, n)
}
func (s *Supervisor) FollowLogs(ctx context.Context, w io.Writer, names []string) {
	s.inner.FollowLogs(ctx, w, names)
}

func (s *Supervisor) SetHistorySinks(sinks ...HistorySink) { s.inner.SetHistorySinks(sinks...) }
func (s *Supervisor) Close()                               { s.inner.Close() }

// LoadConfig reads unitherd.toml (path may be empty for defaults) and
// resolves the directory layout.
func LoadConfig(path string) (*Config, error) {
	c, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Normalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewHTTPServer builds an HTTP server exposing the lifecycle API and
// /metrics for the given supervisor. The caller runs and shuts it down.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr from the default registry in the
// caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

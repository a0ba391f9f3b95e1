// Package supervisor coordinates the full unit lifecycle: ordered batch
// starts and stops, status reporting, reconciliation of declared against
// live units, and the periodic monitor loop. All lifecycle operations
// are serialized; units run concurrently as OS processes but the
// supervisor itself works through them one at a time.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/unitherd/unitherd/internal/config"
	"github.com/unitherd/unitherd/internal/env"
	"github.com/unitherd/unitherd/internal/history"
	"github.com/unitherd/unitherd/internal/logstream"
	"github.com/unitherd/unitherd/internal/metrics"
	"github.com/unitherd/unitherd/internal/process"
	"github.com/unitherd/unitherd/internal/registry"
	"github.com/unitherd/unitherd/internal/unit"
)

// Supervisor owns the loader, registry, controller and sinks, and is the
// single writer of unit state.
type Supervisor struct {
	cfg *config.Config
	reg *registry.Registry
	ctl *process.Controller

	mu    sync.Mutex // serializes lifecycle operations (CLI, API, monitor tick)
	sinks []history.Sink

	// deadSince tracks when the monitor first saw each unit down, so
	// restart delays elapse across ticks instead of blocking the loop.
	deadSince map[string]time.Time
}

// New wires a supervisor from a normalized configuration.
func New(cfg *config.Config) (*Supervisor, error) {
	e, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg.RunDir)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	ctl := &process.Controller{
		Registry:    reg,
		Env:         e,
		BaseDir:     cfg.BaseDir,
		ServicesDir: cfg.ServicesDir,
		LogDir:      cfg.LogDir,
	}
	return &Supervisor{
		cfg:       cfg,
		reg:       reg,
		ctl:       ctl,
		deadSince: make(map[string]time.Time),
	}, nil
}

// SetHistorySinks replaces the sinks receiving lifecycle events.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append([]history.Sink(nil), sinks...)
}

// Close releases history sinks. Units keep running; the registry keeps
// tracking them for the next invocation.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	history.CloseAll(s.sinks)
	s.sinks = nil
}

// Environment exposes the shared unit environment, mainly for preflight
// diagnostics and tests.
func (s *Supervisor) Environment() *env.Env { return s.ctl.Env }

// Units loads the currently declared units in declaration order.
func (s *Supervisor) Units() ([]unit.Spec, error) { return s.load() }

func (s *Supervisor) load() ([]unit.Spec, error) {
	specs, err := unit.LoadDir(s.cfg.ServicesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return specs, nil
}

func findUnit(specs []unit.Spec, name string) (unit.Spec, bool) {
	for _, sp := range specs {
		if sp.Name == name {
			return sp, true
		}
	}
	return unit.Spec{}, false
}

// StartAll preflights every declared unit, then starts them in declared
// order. Individual launch failures do not abort the batch; they are
// reported in the aggregate error.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	if err := s.ctl.Preflight(specs); err != nil {
		return err
	}
	return s.startBatch(ctx, specs)
}

func (s *Supervisor) startBatch(ctx context.Context, specs []unit.Spec) error {
	var failed int
	for _, sp := range specs {
		if err := s.startOne(ctx, sp); err != nil {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	s.setRunningGauge(specs)
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to start", failed, len(specs))
	}
	return nil
}

func (s *Supervisor) startOne(ctx context.Context, sp unit.Spec) error {
	if s.ctl.Alive(sp.Name) {
		slog.Info("unit already running", "unit", sp.Name)
		return nil
	}
	if err := s.ctl.Start(ctx, sp); err != nil {
		metrics.IncStartFailure(sp.Name)
		slog.Error("unit start failed", "unit", sp.Name, "error", err)
		return err
	}
	pid, _ := s.ctl.Pid(sp.Name)
	metrics.IncStart(sp.Name)
	history.Broadcast(ctx, s.sinks, history.Event{
		Type: history.EventStart, OccurredAt: time.Now().UTC(), Unit: sp.Name, Pid: pid,
	})
	return nil
}

// Start starts one declared unit by name.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	sp, ok := findUnit(specs, name)
	if !ok {
		return fmt.Errorf("unknown unit %q", name)
	}
	if err := s.ctl.Preflight([]unit.Spec{sp}); err != nil {
		return err
	}
	err = s.startOne(ctx, sp)
	s.setRunningGauge(specs)
	return err
}

// StopAll stops every declared unit in reverse declared order, then any
// registry leftovers whose unit files have disappeared. Stop never fails.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	s.stopBatch(ctx, specs)
	s.setRunningGauge(specs)
	return nil
}

func (s *Supervisor) stopBatch(ctx context.Context, specs []unit.Spec) {
	for i := len(specs) - 1; i >= 0; i-- {
		s.stopOne(ctx, specs[i].Name, specs[i].SweepPattern())
	}
	declared := make(map[string]bool, len(specs))
	for _, sp := range specs {
		declared[sp.Name] = true
	}
	names, err := s.reg.Names()
	if err != nil {
		slog.Warn("reading registry leftovers failed", "error", err)
		return
	}
	for _, n := range names {
		if !declared[n] {
			// No declaration left to consult, so the name doubles as
			// the sweep pattern.
			s.stopOne(ctx, n, n)
		}
	}
}

func (s *Supervisor) stopOne(ctx context.Context, name, pattern string) {
	pid, wasAlive := s.ctl.Pid(name)
	s.ctl.Stop(ctx, name, pattern)
	delete(s.deadSince, name)
	if wasAlive {
		metrics.IncStop(name)
		history.Broadcast(ctx, s.sinks, history.Event{
			Type: history.EventStop, OccurredAt: time.Now().UTC(), Unit: name, Pid: pid,
		})
	}
}

// Stop stops one unit by name. Units that vanished from the services
// directory but still hold a registry entry are stopped with their name
// as the sweep pattern.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	if sp, ok := findUnit(specs, name); ok {
		s.stopOne(ctx, sp.Name, sp.SweepPattern())
		s.setRunningGauge(specs)
		return nil
	}
	if _, ok, _ := s.reg.Get(name); ok {
		s.stopOne(ctx, name, name)
		s.setRunningGauge(specs)
		return nil
	}
	return fmt.Errorf("unknown unit %q", name)
}

// RestartAll stops every declared unit, then starts them again.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	if err := s.ctl.Preflight(specs); err != nil {
		return err
	}
	s.stopBatch(ctx, specs)
	var failed int
	for _, sp := range specs {
		if err := s.restartOne(ctx, sp); err != nil {
			failed++
		}
	}
	s.setRunningGauge(specs)
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to restart", failed, len(specs))
	}
	return nil
}

// Restart stops and starts one declared unit.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	sp, ok := findUnit(specs, name)
	if !ok {
		return fmt.Errorf("unknown unit %q", name)
	}
	if err := s.ctl.Preflight([]unit.Spec{sp}); err != nil {
		return err
	}
	s.stopOne(ctx, sp.Name, sp.SweepPattern())
	err = s.restartOne(ctx, sp)
	s.setRunningGauge(specs)
	return err
}

func (s *Supervisor) restartOne(ctx context.Context, sp unit.Spec) error {
	if err := s.ctl.Start(ctx, sp); err != nil {
		metrics.IncStartFailure(sp.Name)
		slog.Error("unit restart failed", "unit", sp.Name, "error", err)
		return err
	}
	pid, _ := s.ctl.Pid(sp.Name)
	metrics.IncRestart(sp.Name)
	history.Broadcast(ctx, s.sinks, history.Event{
		Type: history.EventRestart, OccurredAt: time.Now().UTC(), Unit: sp.Name, Pid: pid,
	})
	return nil
}

// Reload reconciles the services directory against the live set:
// units that are live but no longer declared are stopped (descending
// name order), units that are declared but not live are started
// (declared order), and units in both sets are left untouched even when
// their declaration changed.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		// A broken services directory must not take the live set down.
		return err
	}

	declared := make(map[string]bool, len(specs))
	for _, sp := range specs {
		declared[sp.Name] = true
	}

	liveNames, err := s.reg.Names()
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	live := make(map[string]bool, len(liveNames))
	for _, n := range liveNames {
		if s.ctl.Alive(n) {
			live[n] = true
		}
	}

	var toStop []string
	for n := range live {
		if !declared[n] {
			toStop = append(toStop, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(toStop)))

	var toStart []unit.Spec
	for _, sp := range specs {
		if !live[sp.Name] {
			toStart = append(toStart, sp)
		}
	}

	// Fail before disturbing anything when a new unit cannot run at all.
	if err := s.ctl.Preflight(toStart); err != nil {
		return err
	}

	slog.Info("reloading units", "stop", len(toStop), "start", len(toStart), "keep", len(specs)-len(toStart))

	for _, n := range toStop {
		s.stopOne(ctx, n, n)
	}
	var failed int
	for _, sp := range toStart {
		if err := s.startOne(ctx, sp); err != nil {
			failed++
		}
	}
	s.setRunningGauge(specs)
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to start during reload", failed, len(toStart))
	}
	return nil
}

func (s *Supervisor) setRunningGauge(specs []unit.Spec) {
	running := 0
	for _, sp := range specs {
		if s.ctl.Alive(sp.Name) {
			running++
		}
	}
	metrics.SetUnitsRunning(running)
}

// TailLogs returns the last n lines of one unit's log stream.
func (s *Supervisor) TailLogs(name string, n int) ([]string, error) {
	return logstream.TailLines(s.cfg.LogDir, name, n)
}

// FollowLogs streams appended log lines for the given units to w until
// ctx is cancelled. Multiple units are multiplexed with name prefixes.
func (s *Supervisor) FollowLogs(ctx context.Context, w io.Writer, names []string) {
	logstream.Follow(ctx, w, s.cfg.LogDir, names, len(names) > 1)
}

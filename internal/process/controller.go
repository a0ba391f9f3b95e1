// Package process launches, confirms, stops and sweeps unit processes. It
// owns the mechanics only; ordering and batch policy live in the
// supervisor.
package process

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/unitherd/unitherd/internal/env"
	"github.com/unitherd/unitherd/internal/logstream"
	"github.com/unitherd/unitherd/internal/metrics"
	"github.com/unitherd/unitherd/internal/readiness"
	"github.com/unitherd/unitherd/internal/registry"
	"github.com/unitherd/unitherd/internal/unit"
)

const (
	// DefaultConfirmDelay is how long a launched unit must survive before
	// its start is reported as successful.
	DefaultConfirmDelay = 500 * time.Millisecond
	// DefaultStopWait is the grace window between SIGTERM and SIGKILL.
	DefaultStopWait = 500 * time.Millisecond
)

// Controller starts and stops individual units against the registry.
type Controller struct {
	Registry *registry.Registry
	Env      *env.Env

	BaseDir     string // working directory for launched units and path fallback
	ServicesDir string // first candidate for scripts and env files
	LogDir      string // unit output streams

	ConfirmDelay time.Duration
	StopWait     time.Duration
}

func (c *Controller) confirmDelay() time.Duration {
	if c.ConfirmDelay > 0 {
		return c.ConfirmDelay
	}
	return DefaultConfirmDelay
}

func (c *Controller) stopWait() time.Duration {
	if c.StopWait > 0 {
		return c.StopWait
	}
	return DefaultStopWait
}

// Alive reports whether the named unit has a live registered process. This
// is the liveness the whole system trusts: registry entry plus signal 0.
func (c *Controller) Alive(name string) bool {
	pid, ok, err := c.Registry.Get(name)
	if err != nil || !ok {
		return false
	}
	return PidAlive(pid)
}

// Pid returns the registered PID of a unit when it is alive.
func (c *Controller) Pid(name string) (int, bool) {
	pid, ok, err := c.Registry.Get(name)
	if err != nil || !ok || !PidAlive(pid) {
		return 0, false
	}
	return pid, true
}

// Start brings one unit up: readiness gate, environment assembly, launch in
// its own process group with output appended to its log stream, registry
// record, and a short confirmation that it survived. Starting a unit that
// is already running is not an error.
func (c *Controller) Start(ctx context.Context, spec unit.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if pid, ok := c.Pid(spec.Name); ok {
		slog.Info("unit already running", "unit", spec.Name, "pid", pid)
		return nil
	}
	if pid, ok, _ := c.Registry.Get(spec.Name); ok {
		slog.Debug("dropping stale registry entry", "unit", spec.Name, "pid", pid)
		_ = c.Registry.Remove(spec.Name)
	}

	if cond := readiness.Parse(spec.WaitFor, c.Alive); cond != nil {
		attempts := spec.WaitAttempts
		if attempts <= 0 {
			attempts = unit.DefaultWaitAttempts
		}
		waitStart := time.Now()
		ready := readiness.Await(ctx, cond, attempts)
		metrics.ObserveReadyWait(spec.Name, time.Since(waitStart).Seconds())
		if !ready {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("readiness wait timed out, launching anyway",
				"unit", spec.Name, "condition", cond.Describe(), "attempts", attempts)
		}
	}

	stream, err := logstream.Open(c.LogDir, spec.Name)
	if err != nil {
		return &StartError{Unit: spec.Name, Reason: "open log stream", Err: err}
	}
	defer func() { _ = stream.Close() }()

	cmd, err := c.buildCmd(spec, stream)
	if err != nil {
		return err
	}
	stream.StartMarker(spec.Command)

	if err := cmd.Start(); err != nil {
		return &StartError{Unit: spec.Name, Reason: "launch failed", Err: err}
	}
	pid := cmd.Process.Pid
	if err := c.Registry.Set(spec.Name, pid); err != nil {
		slog.Error("failed to record unit pid", "unit", spec.Name, "pid", pid, "error", err)
	}
	// Reap on exit so dead units never linger as zombies.
	go func() { _ = cmd.Wait() }()

	select {
	case <-ctx.Done():
	case <-time.After(c.confirmDelay()):
	}
	if !PidAlive(pid) {
		_ = c.Registry.Remove(spec.Name)
		return &StartError{Unit: spec.Name, Reason: "exited immediately after launch; check its log"}
	}
	slog.Info("unit started", "unit", spec.Name, "pid", pid, "mode", spec.Mode.String())
	return nil
}

// Stop brings one unit down and always succeeds: SIGTERM to the process
// group, a grace window, SIGKILL, registry cleanup, and finally the pattern
// sweep for anything the group signal missed (shell wrappers, double
// forks). The sweep matches by substring, which can catch unrelated
// processes whose command lines contain the pattern; keep patterns
// specific.
func (c *Controller) Stop(ctx context.Context, name, pattern string) {
	pid, ok, _ := c.Registry.Get(name)
	if ok && PidAlive(pid) {
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			_ = syscall.Kill(pid, syscall.SIGTERM)
		}
		if !waitGone(ctx, pid, c.stopWait()) {
			slog.Debug("unit ignored SIGTERM, escalating", "unit", name, "pid", pid)
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
			waitGone(ctx, pid, 200*time.Millisecond)
		}
	}
	_ = c.Registry.Remove(name)

	if pattern != "" {
		if n := SweepKill(pattern); n > 0 {
			slog.Debug("sweep killed leftover processes", "unit", name, "pattern", pattern, "count", n)
		}
	}
	if stream, err := logstream.Open(c.LogDir, name); err == nil {
		stream.StopMarker()
		_ = stream.Close()
	}
	slog.Info("unit stopped", "unit", name)
}

// StopUnit stops a declared unit using its own sweep pattern.
func (c *Controller) StopUnit(ctx context.Context, spec unit.Spec) {
	c.Stop(ctx, spec.Name, spec.SweepPattern())
}

func (c *Controller) buildCmd(spec unit.Spec, stream *logstream.Stream) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch spec.Mode {
	case unit.ModeScript:
		script, args := spec.ScriptPath()
		resolved, err := c.resolveScript(script)
		if err != nil {
			return nil, &StartError{Unit: spec.Name, Reason: "resolve script", Err: err}
		}
		// #nosec G204
		cmd = exec.Command(resolved, args...)
	default:
		cmd = spec.BuildCommand()
	}
	cmd.Env = c.buildEnv(spec)
	if c.BaseDir != "" {
		cmd.Dir = c.BaseDir
	}
	cmd.Stdout = stream.File()
	cmd.Stderr = stream.File()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

// buildEnv assembles the child environment. A missing or unreadable env
// file downgrades to a warning; the unit still launches.
func (c *Controller) buildEnv(spec unit.Spec) []string {
	e := c.Env
	if e == nil {
		e = env.New()
	}
	var fileVars []string
	if spec.EnvFile != "" {
		if p, ok := c.resolveFile(spec.EnvFile); ok {
			vars, err := env.LoadFile(p)
			if err != nil {
				slog.Warn("env file unreadable, continuing without it", "unit", spec.Name, "file", p, "error", err)
			} else {
				fileVars = vars
			}
		} else {
			slog.Warn("env file not found, continuing without it", "unit", spec.Name, "file", spec.EnvFile)
		}
	}
	return e.Merge(fileVars, spec.Env)
}

// resolveFile locates a unit-relative file: services dir first, then base
// dir, then the path as given.
func (c *Controller) resolveFile(path string) (string, bool) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		return "", false
	}
	for _, dir := range []string{c.ServicesDir, c.BaseDir, "."} {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, path)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// resolveScript locates a script like resolveFile but also requires the
// executable bit.
func (c *Controller) resolveScript(path string) (string, error) {
	p, ok := c.resolveFile(path)
	if !ok {
		return "", &exec.Error{Name: path, Err: exec.ErrNotFound}
	}
	if err := env.IsExecutable(p); err != nil {
		return "", err
	}
	return p, nil
}

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unitherd/unitherd/internal/env"
	"github.com/unitherd/unitherd/internal/logstream"
	"github.com/unitherd/unitherd/internal/registry"
	"github.com/unitherd/unitherd/internal/unit"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	base := t.TempDir()
	reg, err := registry.New(filepath.Join(base, "run"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return &Controller{
		Registry:    reg,
		Env:         env.New(),
		BaseDir:     base,
		ServicesDir: filepath.Join(base, "services"),
		LogDir:      filepath.Join(base, "log"),
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "sleeper", Command: "sleep 60"}

	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid, ok := c.Pid("sleeper")
	if !ok || pid <= 0 {
		t.Fatalf("unit should be registered and alive, pid=%d ok=%v", pid, ok)
	}
	if !c.Alive("sleeper") {
		t.Fatal("Alive should report the running unit")
	}

	c.StopUnit(context.Background(), spec)
	if c.Alive("sleeper") {
		t.Fatal("unit still alive after Stop")
	}
	if _, ok, _ := c.Registry.Get("sleeper"); ok {
		t.Fatal("registry entry should be removed by Stop")
	}
	if PidAlive(pid) {
		t.Fatalf("pid %d survived Stop", pid)
	}

	b, err := os.ReadFile(logstream.Path(c.LogDir, "sleeper"))
	if err != nil {
		t.Fatalf("log stream missing: %v", err)
	}
	if !strings.Contains(string(b), "start sleeper") || !strings.Contains(string(b), "stop sleeper") {
		t.Fatalf("log stream missing run markers:\n%s", b)
	}
}

func TestStartAlreadyRunningIsNotAnError(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "once", Command: "sleep 60"}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	pid1, _ := c.Pid("once")
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}
	pid2, _ := c.Pid("once")
	if pid1 != pid2 {
		t.Fatalf("second Start replaced the process: %d != %d", pid1, pid2)
	}
	c.StopUnit(context.Background(), spec)
}

func TestStartFailedWhenUnitDiesImmediately(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "flaky", Command: "sh -c 'exit 3'"}
	err := c.Start(context.Background(), spec)
	if err == nil {
		t.Fatal("expected a start failure")
	}
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("expected ErrStartFailed, got %v", err)
	}
	if _, ok, _ := c.Registry.Get("flaky"); ok {
		t.Fatal("failed start must not leave a registry entry")
	}
}

func TestStartCapturesOutput(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "chatty", Command: "sh -c 'echo hello-from-unit; sleep 60'"}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopUnit(context.Background(), spec)

	b, err := os.ReadFile(logstream.Path(c.LogDir, "chatty"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "hello-from-unit") {
		t.Fatalf("unit stdout not captured:\n%s", b)
	}
}

func TestUnitEnvReachesChildOnly(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{
		Name:    "envy",
		Command: "sh -c 'echo GOT=$UNITHERD_PROBE; sleep 60'",
		Env:     []string{"UNITHERD_PROBE=sealed"},
	}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopUnit(context.Background(), spec)

	b, err := os.ReadFile(logstream.Path(c.LogDir, "envy"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "GOT=sealed") {
		t.Fatalf("unit env did not reach the child:\n%s", b)
	}
	if os.Getenv("UNITHERD_PROBE") != "" {
		t.Fatal("unit env leaked into the supervisor's environment")
	}
}

func TestEnvFileLayering(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	if err := os.MkdirAll(c.ServicesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(c.ServicesDir, "envy.env")
	if err := os.WriteFile(envPath, []byte("FROM_FILE=file\nBOTH=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	spec := unit.Spec{
		Name:    "layered",
		Command: "sh -c 'echo A=$FROM_FILE B=$BOTH; sleep 60'",
		EnvFile: "envy.env",
		Env:     []string{"BOTH=unit"},
	}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.StopUnit(context.Background(), spec)

	b, err := os.ReadFile(logstream.Path(c.LogDir, "layered"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "A=file B=unit") {
		t.Fatalf("env layering wrong:\n%s", b)
	}
}

func TestMissingEnvFileIsOnlyAWarning(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "noenv", Command: "sleep 60", EnvFile: "does-not-exist.env"}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("missing env file must not fail the start: %v", err)
	}
	c.StopUnit(context.Background(), spec)
}

func TestScriptMode(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	if err := os.MkdirAll(c.ServicesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(c.ServicesDir, "run-thing.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	spec := unit.Spec{Name: "scripted", Mode: unit.ModeScript, Command: "run-thing.sh"}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Alive("scripted") {
		t.Fatal("script unit should be alive")
	}
	c.StopUnit(context.Background(), spec)
}

func TestScriptModeRequiresExecBit(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	if err := os.MkdirAll(c.ServicesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(c.ServicesDir, "limp.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	spec := unit.Spec{Name: "limp", Mode: unit.ModeScript, Command: "limp.sh"}
	err := c.Start(context.Background(), spec)
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("non-executable script should fail the start, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{Name: "stubborn", Command: `sh -c 'trap "" TERM; sleep 60'`}
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid, _ := c.Pid("stubborn")

	done := make(chan struct{})
	go func() {
		c.StopUnit(context.Background(), spec)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop hung on a TERM-ignoring unit")
	}
	if PidAlive(pid) {
		t.Fatalf("pid %d survived escalation", pid)
	}
}

func TestStopOfDeadEntryAlwaysSucceeds(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	if err := c.Registry.Set("ghost", 2147483000); err != nil {
		t.Fatal(err)
	}
	c.Stop(context.Background(), "ghost", "")
	if _, ok, _ := c.Registry.Get("ghost"); ok {
		t.Fatal("stale entry should be cleared")
	}
	// stopping something entirely unknown is also fine
	c.Stop(context.Background(), "never-existed", "")
}

func TestReadinessGateTimeoutStillLaunches(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	spec := unit.Spec{
		Name:         "patient",
		Command:      "sleep 60",
		WaitFor:      "tcp:127.0.0.1:1", // nothing listens on port 1
		WaitAttempts: 1,
	}
	start := time.Now()
	if err := c.Start(context.Background(), spec); err != nil {
		t.Fatalf("readiness timeout must not fail the start: %v", err)
	}
	if d := time.Since(start); d > 15*time.Second {
		t.Fatalf("single readiness attempt took %v", d)
	}
	if !c.Alive("patient") {
		t.Fatal("unit should be running despite the failed gate")
	}
	c.StopUnit(context.Background(), spec)
}

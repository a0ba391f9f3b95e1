package process

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unitherd/unitherd/internal/unit"
)

func TestInlineProgram(t *testing.T) {
	tests := []struct {
		command string
		want    string
		ok      bool
	}{
		{"redis-server --port 6379", "redis-server", true},
		{"FOO=1 BAR=2 worker --queue q", "worker", true},
		{"/usr/local/bin/app serve", "/usr/local/bin/app", true},
		{"FOO=1", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := inlineProgram(tt.command)
		if got != tt.want || ok != tt.ok {
			t.Errorf("inlineProgram(%q) = (%q, %v), want (%q, %v)", tt.command, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPreflightPasses(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	specs := []unit.Spec{
		{Name: "a", Command: "sleep 1"},
		{Name: "b", Command: "ENV=x sh -c 'true'"},
	}
	if err := c.Preflight(specs); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
}

func TestPreflightExemptsShellCommands(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	// First tokens here are shell builtins or would never resolve on
	// PATH; the commands still launch because the executable is /bin/sh.
	specs := []unit.Spec{
		{Name: "app", Command: "cd /tmp && /bin/true"},
		{Name: "loop", Command: "while true; do sleep 1; done"},
		{Name: "pipe", Command: "no-such-binary-xyzzy | tee out"},
	}
	if err := c.Preflight(specs); err != nil {
		t.Fatalf("shell-wrapped commands must not be PATH-checked: %v", err)
	}
}

func TestPreflightAggregatesAllMisses(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	specs := []unit.Spec{
		{Name: "ok", Command: "sleep 1"},
		{Name: "bad1", Command: "no-such-binary-xyzzy --flag"},
		{Name: "bad2", Command: "also-not-here"},
	}
	err := c.Preflight(specs)
	if err == nil {
		t.Fatal("expected preflight failure")
	}
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "no-such-binary-xyzzy") || !strings.Contains(msg, "also-not-here") {
		t.Fatalf("all misses should be reported together: %q", msg)
	}
	var dep *DependencyError
	if !errors.As(err, &dep) || len(dep.Missing) != 2 {
		t.Fatalf("expected 2 missing entries, got %#v", dep)
	}
}

func TestPreflightChecksScripts(t *testing.T) {
	requireUnixProc(t)
	c := newTestController(t)
	if err := os.MkdirAll(c.ServicesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(c.ServicesDir, "good.sh")
	if err := os.WriteFile(good, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(c.ServicesDir, "bad.sh")
	if err := os.WriteFile(bad, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := []unit.Spec{
		{Name: "good", Mode: unit.ModeScript, Command: "good.sh"},
		{Name: "bad", Mode: unit.ModeScript, Command: "bad.sh"},
		{Name: "gone", Mode: unit.ModeScript, Command: "gone.sh"},
	}
	err := c.Preflight(specs)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	var dep *DependencyError
	if !errors.As(err, &dep) || len(dep.Missing) != 2 {
		t.Fatalf("bad.sh and gone.sh should be missing, got %#v", dep)
	}
}

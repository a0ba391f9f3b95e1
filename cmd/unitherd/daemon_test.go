package main

import "testing"

func TestDaemonizeChildIsNoOp(t *testing.T) {
	t.Setenv(daemonEnv, "1")
	if err := daemonize(""); err != nil {
		t.Fatalf("daemonize in child mode: %v", err)
	}
}

package process

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestSweepKillMatchesCmdline(t *testing.T) {
	requireUnixProc(t)
	// a sleep duration nobody else will be running
	marker := fmt.Sprintf("86400.%06d", os.Getpid()%1000000)
	cmd := exec.Command("sleep", marker)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	defer func() { _ = cmd.Wait() }()

	n := SweepKill(marker)
	if n < 1 {
		t.Fatalf("sweep should have matched the marker process, killed %d", n)
	}
	deadline := time.Now().Add(5 * time.Second)
	for PidAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("pid %d survived the sweep", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSweepKillEmptyPattern(t *testing.T) {
	if n := SweepKill(""); n != 0 {
		t.Fatalf("empty pattern must sweep nothing, killed %d", n)
	}
}

func TestSweepKillSkipsSelf(t *testing.T) {
	requireUnixProc(t)
	// our own cmdline contains the test binary name; sweeping for it must
	// not kill us
	_ = SweepKill("process.test")
	if !PidAlive(os.Getpid()) {
		t.Fatal("unreachable")
	}
}

package process

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func requireUnixProc(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix process semantics")
	}
}

func TestPidAlive(t *testing.T) {
	requireUnixProc(t)
	if !PidAlive(os.Getpid()) {
		t.Fatal("our own pid must be alive")
	}
	if PidAlive(0) || PidAlive(-1) {
		t.Fatal("non-positive pids are never alive")
	}
	if PidAlive(2147483000) {
		t.Fatal("absurd pid should not be alive")
	}
}

func TestPidAliveZombie(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection relies on /proc")
	}
	cmd := exec.Command("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	// unreaped child becomes a zombie; wait for the state to show up
	deadline := time.Now().Add(5 * time.Second)
	for !isZombieLinux(pid) {
		if time.Now().After(deadline) {
			t.Fatal("child never turned zombie")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if PidAlive(pid) {
		t.Fatal("a zombie must not count as alive")
	}
	_ = cmd.Wait()
}

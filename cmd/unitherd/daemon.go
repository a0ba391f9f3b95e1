package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonEnv marks the re-executed child so it skips the fork step.
const daemonEnv = "UNITHERD_DAEMON"

// daemonize re-executes the current invocation in a new session with
// --daemon stripped, then exits the parent. The child inherits every
// other flag, so it serves exactly what the foreground run would have.
// Child stdout/stderr go to outFile, or /dev/null when empty.
func daemonize(outFile string) error {
	if os.Getenv(daemonEnv) == "1" {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := make([]string, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		if arg == "--daemon" || arg == "--daemon=true" {
			continue
		}
		args = append(args, arg)
	}

	// #nosec G204 -- re-exec of our own binary with our own args.
	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	if outFile != "" {
		// #nosec G304 -- path comes from the resolved log dir.
		f, err := os.OpenFile(outFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon output file: %w", err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	fmt.Printf("daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

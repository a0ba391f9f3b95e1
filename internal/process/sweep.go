package process

import (
	"log/slog"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// SweepKill force-kills every process whose command line contains pattern,
// skipping the supervisor itself and its parent. It returns how many
// processes were killed.
//
// Matching is a plain substring check against full command lines, exactly
// as loose as it sounds: an overly generic pattern ("python", "sh") will
// take down unrelated processes. This is the documented fallback for
// children the process-group signal cannot reach.
func SweepKill(pattern string) int {
	if pattern == "" {
		return 0
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		slog.Debug("sweep: cannot enumerate processes", "error", err)
		return 0
	}
	self := int32(os.Getpid())
	parent := int32(os.Getppid())
	n := 0
	for _, p := range procs {
		if p.Pid == self || p.Pid == parent {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if !strings.Contains(cmdline, pattern) {
			continue
		}
		if err := p.Kill(); err != nil {
			slog.Debug("sweep: kill failed", "pid", p.Pid, "error", err)
			continue
		}
		n++
	}
	return n
}

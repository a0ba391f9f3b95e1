package unit

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrMalformedUnit marks unit definitions that cannot be used at all.
// The loader defaults aggressively, so in practice this mostly guards
// programmatically built specs and unsafe names.
var ErrMalformedUnit = errors.New("malformed unit")

// ExecMode selects how a unit's CMD is executed.
type ExecMode int

const (
	// ModeInline runs CMD as an inline command line (TYPE=simple).
	ModeInline ExecMode = iota
	// ModeScript runs CMD as an executable script path (TYPE=script).
	ModeScript
)

func (m ExecMode) String() string {
	if m == ModeScript {
		return "script"
	}
	return "simple"
}

// Spec describes one supervised unit as declared by its unit file.
type Spec struct {
	Name         string        // unit identity; defaults to the file stem minus its ordering prefix
	File         string        // path of the unit file this spec was loaded from, if any
	Mode         ExecMode      // TYPE
	Command      string        // CMD: inline command line, or script path plus arguments
	WaitFor      string        // WAIT_FOR readiness condition ("tcp:host:port", "service:name")
	WaitAttempts int           // WAIT_FOR poll attempts, one second apart
	Restart      bool          // restart on death; the default, RESTART=no opts out
	RestartDelay time.Duration // RESTART_DELAY before the monitor restarts a dead unit
	EnvFile      string        // ENV_FILE with extra KEY=VALUE entries
	Env          []string      // ENV entries in file order, later wins
	StopPattern  string        // STOP_PATTERN for the post-stop sweep
}

// Validate reports whether the spec is usable. Errors wrap ErrMalformedUnit.
func (s *Spec) Validate() error {
	if !SafeName(s.Name) {
		return fmt.Errorf("%w: unsafe name %q", ErrMalformedUnit, s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("%w: unit %s has no command", ErrMalformedUnit, s.Name)
	}
	if s.Mode != ModeInline && s.Mode != ModeScript {
		return fmt.Errorf("%w: unit %s has unknown exec mode %d", ErrMalformedUnit, s.Name, s.Mode)
	}
	return nil
}

// shellMeta are the characters that force an inline CMD through /bin/sh.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for an inline CMD.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// Fallback: when metacharacters are present, use /bin/sh -c
	if strings.ContainsAny(cmdStr, shellMeta) {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// NeedsShell reports whether an inline CMD goes through /bin/sh, either
// because it spells a shell out or because it uses shell syntax that
// cannot be passed to exec directly.
func (s *Spec) NeedsShell() bool {
	if s.Mode == ModeScript {
		return false
	}
	cmdStr := strings.TrimSpace(s.Command)
	if _, _, ok := parseExplicitShell(cmdStr); ok {
		return true
	}
	return strings.ContainsAny(cmdStr, shellMeta)
}

// ScriptPath splits a script-mode CMD into the script path and its arguments.
func (s *Spec) ScriptPath() (string, []string) {
	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// SweepPattern is the substring matched against process command lines
// after the unit's process group has been signalled. Directly tracked
// launches return "" since the group signal already reaches the whole
// tree; shell launches get a sweep because the long-lived worker may
// not be the tracked shell. STOP_PATTERN overrides the guessed pattern,
// which is the first word of the effective command, unit name as the
// last resort.
func (s *Spec) SweepPattern() string {
	if s.StopPattern != "" {
		return s.StopPattern
	}
	if !s.NeedsShell() {
		return ""
	}
	cmd := strings.TrimSpace(s.Command)
	if _, inner, ok := parseExplicitShell(cmd); ok {
		cmd = inner
	}
	if parts := strings.Fields(cmd); len(parts) > 0 {
		return parts[0]
	}
	return s.Name
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

// SafeName reports whether a unit name is safe to use as a file name
// component and in command selectors.
func SafeName(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

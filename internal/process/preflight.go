package process

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/unitherd/unitherd/internal/env"
	"github.com/unitherd/unitherd/internal/unit"
)

// Preflight verifies that every unit's program can be found before anything
// is launched: direct-exec inline units get their first program token looked
// up on the augmented PATH, script units get their script resolved and
// checked for the exec bit. Shell-wrapped commands are exempt, since their
// executable is the shell and their first token may be a builtin. One miss
// aborts the whole batch.
func (c *Controller) Preflight(specs []unit.Spec) error {
	var missing []string
	for _, s := range specs {
		switch s.Mode {
		case unit.ModeScript:
			script, _ := s.ScriptPath()
			if _, err := c.resolveScript(script); err != nil {
				missing = append(missing, fmt.Sprintf("%s (unit %s)", script, s.Name))
			}
		default:
			if s.NeedsShell() {
				continue
			}
			prog, ok := inlineProgram(s.Command)
			if !ok {
				continue
			}
			e := c.Env
			if e == nil {
				e = env.New()
			}
			if _, err := e.LookPath(prog); err != nil {
				missing = append(missing, fmt.Sprintf("%s (unit %s)", prog, s.Name))
			}
		}
	}
	if len(missing) > 0 {
		slog.Error("preflight failed, refusing to start any unit", "missing", strings.Join(missing, ", "))
		return &DependencyError{Missing: missing}
	}
	return nil
}

// inlineProgram extracts the program to look up from an inline command
// line: the first field that is not a K=V environment assignment.
func inlineProgram(command string) (string, bool) {
	for _, f := range strings.Fields(command) {
		if i := strings.IndexByte(f, '='); i > 0 && !strings.ContainsAny(f[:i], "/") {
			continue
		}
		return f, true
	}
	return "", false
}

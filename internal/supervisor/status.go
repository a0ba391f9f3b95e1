package supervisor

import (
	"regexp"
	"sort"

	"github.com/unitherd/unitherd/internal/logstream"
)

// Row is one line of the status report.
type Row struct {
	Name    string `json:"name"`
	Pid     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Hint    string `json:"hint,omitempty"`
}

// errHint matches the tokens the last log line is scanned for. The scan
// is a heuristic: it cannot tell an error report from a line that merely
// mentions errors.
var errHint = regexp.MustCompile(`(?i)error|fatal`)

// Status reports every declared unit in declaration order, followed by
// registry-only names (sorted) whose unit files have disappeared. The
// log hint is only attached to stopped units; a running unit is healthy
// no matter what its log says.
func (s *Supervisor) Status() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	specs, err := s.load()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(specs))
	declared := make(map[string]bool, len(specs))
	for _, sp := range specs {
		declared[sp.Name] = true
		rows = append(rows, s.row(sp.Name))
	}

	names, err := s.reg.Names()
	if err != nil {
		return rows, nil
	}
	var leftovers []string
	for _, n := range names {
		if !declared[n] {
			leftovers = append(leftovers, n)
		}
	}
	sort.Strings(leftovers)
	for _, n := range leftovers {
		rows = append(rows, s.row(n))
	}
	return rows, nil
}

func (s *Supervisor) row(name string) Row {
	r := Row{Name: name}
	if pid, ok := s.ctl.Pid(name); ok {
		r.Pid = pid
		r.Running = true
		return r
	}
	if line, ok := logstream.LastLine(s.cfg.LogDir, name); ok && errHint.MatchString(line) {
		r.Hint = "(error in log)"
	}
	return r
}

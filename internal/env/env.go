package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Var map[string]string

// Env assembles the environment handed to launched units. The supervisor's
// own process environment is only ever read, never written: every unit gets
// a fresh slice composed from the layers below.
type Env struct {
	Var         Var      // supervisor-global variables (K->V), applied to every unit
	PathPrepend []string // directories placed in front of PATH for units and lookups
	env         Var      // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply fileVars (ENV_FILE entries, "K=V")
// then apply unitVars (ENV entries, "K=V")
// and finally the PATH prepend. Returns the environment slice in "K=V" form,
// with ${VAR} expansion performed using the composed map (simple expansion,
// no recursion).
func (e *Env) Merge(fileVars, unitVars []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	applyPairs(m, fileVars)
	applyPairs(m, unitVars)
	if p := e.prependPath(m["PATH"]); p != "" {
		m["PATH"] = p
	}
	// expand ${VAR}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

// Path returns the search path units see: the configured prepend entries in
// front of the inherited (or globally overridden) PATH.
func (e *Env) Path() string {
	if e.env == nil {
		e.FromOS()
	}
	base := e.env["PATH"]
	if p, ok := e.Var["PATH"]; ok {
		base = p
	}
	if p := e.prependPath(base); p != "" {
		return p
	}
	return base
}

// LookPath resolves prog against the augmented PATH. Unlike exec.LookPath it
// does not consult the supervisor's own PATH variable, so path_prepend
// entries are honored. A prog containing a path separator is checked
// directly.
func (e *Env) LookPath(prog string) (string, error) {
	if strings.Contains(prog, "/") {
		if err := IsExecutable(prog); err != nil {
			return "", err
		}
		return prog, nil
	}
	for _, dir := range filepath.SplitList(e.Path()) {
		if dir == "" {
			dir = "."
		}
		p := filepath.Join(dir, prog)
		if err := IsExecutable(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: executable not found in PATH", prog)
}

// LoadFile parses a KEY=VALUE env file and returns its entries in file
// order. Lines starting with # and blank lines are ignored; one matching
// layer of quotes is stripped from values.
func LoadFile(path string) ([]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if n := len(v); n >= 2 {
			if (v[0] == '\'' && v[n-1] == '\'') || (v[0] == '"' && v[n-1] == '"') {
				v = v[1 : n-1]
			}
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}

func (e *Env) prependPath(base string) string {
	if len(e.PathPrepend) == 0 {
		return ""
	}
	joined := strings.Join(e.PathPrepend, string(os.PathListSeparator))
	if base == "" {
		return joined
	}
	return joined + string(os.PathListSeparator) + base
}

func applyPairs(m Var, pairs []string) {
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
}

// IsExecutable reports whether p is a regular file with an exec bit set.
func IsExecutable(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", p)
	}
	if fi.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", p)
	}
	return nil
}

func expand(s string, m Var) string {
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

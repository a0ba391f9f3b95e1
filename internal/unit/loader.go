// Package unit loads and models unit definitions: one KEY=VALUE file per
// supervised process, kept in the services directory. File name order is
// startup order, so operators prefix files with "10-", "20-" and so on.
package unit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultWaitAttempts is how many one-second readiness polls a unit gets
// before the supervisor gives up waiting and launches anyway.
const DefaultWaitAttempts = 30

// DefaultRestartDelay is applied when RESTART_DELAY is absent.
const DefaultRestartDelay = 5 * time.Second

var orderPrefix = regexp.MustCompile(`^[0-9]+[-_.]+`)

// DeriveName returns the unit name implied by a unit file path: the base
// name without extension and without a numeric ordering prefix.
func DeriveName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if name := orderPrefix.ReplaceAllString(stem, ""); name != "" {
		return name
	}
	return stem
}

// Load parses a single unit file. Unknown keys and unparsable values are
// surfaced as warnings and otherwise ignored; only structurally unusable
// definitions (unsafe name, unknown TYPE, empty CMD) fail with
// ErrMalformedUnit.
func Load(path string) (Spec, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return Spec{}, err
	}
	s := Spec{
		Name:         DeriveName(clean),
		File:         clean,
		Mode:         ModeInline,
		WaitAttempts: DefaultWaitAttempts,
		Restart:      true,
		RestartDelay: DefaultRestartDelay,
	}
	for ln, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			slog.Warn("unit file: ignoring line without '='", "file", clean, "line", ln+1)
			continue
		}
		key := strings.TrimSpace(line[:i])
		val := stripQuotes(strings.TrimSpace(line[i+1:]))
		switch key {
		case "NAME":
			if val != "" {
				s.Name = val
			}
		case "TYPE":
			switch strings.ToLower(val) {
			case "", "simple":
				s.Mode = ModeInline
			case "script":
				s.Mode = ModeScript
			default:
				return Spec{}, fmt.Errorf("%w: %s: unknown TYPE %q", ErrMalformedUnit, clean, val)
			}
		case "CMD":
			s.Command = val
		case "WAIT_FOR":
			s.WaitFor = val
		case "WAIT_ATTEMPTS":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				slog.Warn("unit file: invalid WAIT_ATTEMPTS, using default", "file", clean, "value", val)
				continue
			}
			s.WaitAttempts = n
		case "RESTART":
			switch strings.ToLower(val) {
			case "", "always":
				s.Restart = true
			case "no", "never":
				s.Restart = false
			default:
				slog.Warn("unit file: unknown RESTART value, keeping the restart default", "file", clean, "value", val)
			}
		case "RESTART_DELAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				slog.Warn("unit file: invalid RESTART_DELAY, using default", "file", clean, "value", val)
				continue
			}
			s.RestartDelay = time.Duration(n) * time.Second
		case "ENV_FILE":
			s.EnvFile = val
		case "ENV":
			s.Env = append(s.Env, val)
		case "STOP_PATTERN":
			s.StopPattern = val
		default:
			slog.Warn("unit file: unknown key ignored", "file", clean, "key", key)
		}
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// LoadDir loads every unit file in dir sorted by file name. Dotfiles and
// subdirectories are skipped. An unreadable or empty directory is an error;
// the supervisor treats that as fatal configuration.
func LoadDir(dir string) ([]Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("services directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("services directory %s contains no unit files", dir)
	}
	specs := make([]Spec, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, fn := range names {
		s, err := Load(filepath.Join(dir, fn))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate unit name %q (%s and %s)", s.Name, prev, fn)
		}
		seen[s.Name] = fn
		specs = append(specs, s)
	}
	return specs, nil
}

// stripQuotes removes one matching layer of single or double quotes.
func stripQuotes(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '\'' && v[n-1] == '\'') || (v[0] == '"' && v[n-1] == '"') {
			return v[1 : n-1]
		}
	}
	return v
}

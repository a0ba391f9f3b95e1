// Package registry persists the name→PID mapping of supervised units as one
// small file per unit under the run directory. The registry is advisory: a
// recorded PID may have died or been recycled, so callers always re-derive
// liveness before trusting an entry.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const suffix = ".pid"

type Registry struct {
	dir string
}

// New creates the run directory if needed and returns a registry over it.
func New(dir string) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry: empty run directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create run dir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the run directory backing the registry.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+suffix)
}

// Set records pid for the unit, replacing any previous entry. The write is
// atomic so a concurrent reader never observes a partial file.
func (r *Registry) Set(name string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("registry: refusing to record pid %d for %s", pid, name)
	}
	return writeAtomic(r.path(name), []byte(strconv.Itoa(pid)+"\n"))
}

// Get returns the recorded PID for the unit. A missing entry is not an
// error; unparsable content is reported as absent so callers treat the
// entry as stale.
func (r *Registry) Get(name string) (int, bool, error) {
	b, err := os.ReadFile(r.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false, nil
	}
	return pid, true, nil
}

// Remove deletes the unit's entry. Removing an absent entry is a no-op.
func (r *Registry) Remove(name string) error {
	err := os.Remove(r.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Names lists the units the registry currently knows, sorted. This is the
// "live" set the reconciler diffs against the declared units.
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(names)
	return names, nil
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

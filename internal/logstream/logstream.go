// Package logstream manages the per-unit output files. Every run of a unit
// appends to the same <logdir>/<name>.log; the supervisor writes marker
// lines around each run but never rotates or truncates the stream itself.
package logstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FollowInterval is the poll cadence of Follow.
const FollowInterval = 400 * time.Millisecond

// Path returns the log file path for a unit.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".log")
}

// Stream is an open, append-only unit log.
type Stream struct {
	f    *os.File
	name string
}

// Open opens (creating if needed) the unit's log stream for appending.
func Open(dir, name string) (*Stream, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(Path(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Stream{f: f, name: name}, nil
}

func (s *Stream) Write(p []byte) (int, error) { return s.f.Write(p) }

// File exposes the underlying descriptor for use as a child's stdout/stderr.
func (s *Stream) File() *os.File { return s.f }

// StartMarker brackets the beginning of a run.
func (s *Stream) StartMarker(cmd string) {
	_, _ = fmt.Fprintf(s.f, "[unitherd] %s start %s: %s\n", stamp(), s.name, cmd)
}

// StopMarker brackets the end of a run.
func (s *Stream) StopMarker() {
	_, _ = fmt.Fprintf(s.f, "[unitherd] %s stop %s\n", stamp(), s.name)
}

func (s *Stream) Close() error { return s.f.Close() }

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }

// TailLines returns up to n trailing lines of a unit's log, reading the file
// backwards in blocks so large streams stay cheap.
func TailLines(dir, name string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(Path(dir, name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	const block = 4096
	var buf []byte
	off := fi.Size()
	for off > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(block)
		if off < step {
			step = off
		}
		off -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}
	trimmed := strings.TrimRight(string(buf), "\n")
	if trimmed == "" {
		return nil, nil
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// LastLine returns the final non-blank line of a unit's log. The status
// reporter uses it to hint at crash causes.
func LastLine(dir, name string) (string, bool) {
	lines, err := TailLines(dir, name, 64)
	if err != nil {
		return "", false
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l, true
		}
	}
	return "", false
}

// Follow streams appended log lines of the given units to w until ctx is
// done. It starts at the current end of each file, survives files appearing
// later, and restarts from the top when a file shrinks (external rotation).
// With prefix set, every line is tagged "[name] " so interleaved units stay
// readable.
func Follow(ctx context.Context, w io.Writer, dir string, names []string, prefix bool) {
	followers := make([]*follower, 0, len(names))
	for _, n := range names {
		f := &follower{path: Path(dir, n), name: n}
		if fi, err := os.Stat(f.path); err == nil {
			f.off = fi.Size()
		}
		followers = append(followers, f)
	}
	ticker := time.NewTicker(FollowInterval)
	defer ticker.Stop()
	for {
		for _, f := range followers {
			f.drain(w, prefix)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type follower struct {
	path    string
	name    string
	off     int64
	partial []byte
}

func (f *follower) drain(w io.Writer, prefix bool) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return
	}
	size := fi.Size()
	if size < f.off {
		// rotated or truncated underneath us
		f.off = 0
		f.partial = f.partial[:0]
	}
	if size == f.off {
		return
	}
	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Seek(f.off, io.SeekStart); err != nil {
		return
	}
	b, err := io.ReadAll(io.LimitReader(file, size-f.off))
	if err != nil && len(b) == 0 {
		return
	}
	f.off += int64(len(b))
	f.partial = append(f.partial, b...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			return
		}
		line := f.partial[:i]
		f.partial = f.partial[i+1:]
		if prefix {
			_, _ = fmt.Fprintf(w, "[%s] %s\n", f.name, line)
		} else {
			_, _ = fmt.Fprintf(w, "%s\n", line)
		}
	}
}

package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pairsToMap(t *testing.T, pairs []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			t.Fatalf("bad pair %q", kv)
		}
		m[k] = v
	}
	return m
}

func TestMergeLayering(t *testing.T) {
	e := New()
	e.Set("LAYER", "global")
	e.Set("ONLY_GLOBAL", "g")
	got := pairsToMap(t, e.Merge(
		[]string{"LAYER=file", "ONLY_FILE=f"},
		[]string{"LAYER=unit", "ONLY_UNIT=u"},
	))
	if got["LAYER"] != "unit" {
		t.Fatalf("unit vars must win, got LAYER=%q", got["LAYER"])
	}
	if got["ONLY_GLOBAL"] != "g" || got["ONLY_FILE"] != "f" || got["ONLY_UNIT"] != "u" {
		t.Fatalf("layers missing: %v", got)
	}
}

func TestMergeDoesNotTouchProcessEnv(t *testing.T) {
	const key = "UNIT_MERGE_PROBE"
	e := New()
	e.Set(key, "inside")
	_ = e.Merge(nil, []string{key + "2=also-inside"})
	if os.Getenv(key) != "" || os.Getenv(key+"2") != "" {
		t.Fatal("merge must never write to the supervisor's own environment")
	}
}

func TestMergeExpansion(t *testing.T) {
	e := New()
	e.Set("BASE", "/srv/app")
	got := pairsToMap(t, e.Merge(nil, []string{"DATA=${BASE}/data"}))
	if got["DATA"] != "/srv/app/data" {
		t.Fatalf("expansion failed: DATA=%q", got["DATA"])
	}
}

func TestPathPrepend(t *testing.T) {
	e := New()
	e.Set("PATH", "/usr/bin:/bin")
	e.PathPrepend = []string{"/opt/tools/bin"}
	if got := e.Path(); got != "/opt/tools/bin:/usr/bin:/bin" {
		t.Fatalf("Path() = %q", got)
	}
	m := pairsToMap(t, e.Merge(nil, nil))
	if m["PATH"] != "/opt/tools/bin:/usr/bin:/bin" {
		t.Fatalf("merged PATH = %q", m["PATH"])
	}
}

func TestLookPath(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "mytool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notexec"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New()
	e.Set("PATH", dir)
	p, err := e.LookPath("mytool")
	if err != nil {
		t.Fatalf("LookPath: %v", err)
	}
	if p != tool {
		t.Fatalf("LookPath = %q, want %q", p, tool)
	}
	if _, err := e.LookPath("notexec"); err == nil {
		t.Fatal("file without exec bit must not resolve")
	}
	if _, err := e.LookPath("definitely-not-here"); err == nil {
		t.Fatal("missing program must not resolve")
	}
	// explicit path bypasses the search
	if _, err := e.LookPath(tool); err != nil {
		t.Fatalf("explicit path: %v", err)
	}
}

func TestLookPathHonorsPrepend(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	for _, d := range []string{dirA, dirB} {
		if err := os.WriteFile(filepath.Join(d, "dup"), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	e := New()
	e.Set("PATH", dirB)
	e.PathPrepend = []string{dirA}
	p, err := e.LookPath("dup")
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dirA, "dup") {
		t.Fatalf("prepended dir must win: got %q", p)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "svc.env")
	content := "# comment\nA=1\n\nB='two words'\nC=\"three\"\nnot a pair\nA=override\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	pairs, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := []string{"A=1", "B=two words", "C=three", "A=override"}
	if len(pairs) != len(want) {
		t.Fatalf("pairs = %v, want %v", pairs, want)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pairs[%d] = %q, want %q", i, pairs[i], want[i])
		}
	}
	// later entry wins after merging
	m := pairsToMap(t, New().Merge(pairs, nil))
	if m["A"] != "override" {
		t.Fatalf("A = %q, want override", m["A"])
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Fatal("missing env file must error (caller downgrades to a warning)")
	}
}

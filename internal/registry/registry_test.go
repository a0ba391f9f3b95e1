package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetRemove(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Set("web", 12345); err != nil {
		t.Fatalf("Set: %v", err)
	}
	pid, ok, err := r.Get("web")
	if err != nil || !ok || pid != 12345 {
		t.Fatalf("Get = (%d, %v, %v), want (12345, true, nil)", pid, ok, err)
	}
	if err := r.Remove("web"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := r.Get("web"); ok {
		t.Fatal("entry should be gone after Remove")
	}
	// removing twice must stay silent
	if err := r.Remove("web"); err != nil {
		t.Fatalf("Remove of absent entry: %v", err)
	}
}

func TestGetMissingAndGarbage(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := r.Get("nothing"); ok || err != nil {
		t.Fatalf("missing entry should be (0,false,nil), got ok=%v err=%v", ok, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "junk.pid"), []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := r.Get("junk"); ok || err != nil {
		t.Fatalf("garbage entry should read as absent, got ok=%v err=%v", ok, err)
	}
}

func TestSetRejectsBadPid(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set("x", 0); err == nil {
		t.Fatal("pid 0 must be rejected")
	}
	if err := r.Set("x", -5); err == nil {
		t.Fatal("negative pid must be rejected")
	}
}

func TestNames(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	for name, pid := range map[string]int{"web": 11, "db": 22, "cache": 33} {
		if err := r.Set(name, pid); err != nil {
			t.Fatal(err)
		}
	}
	// non-registry files in the run dir must be ignored
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	names, err := r.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	want := []string{"cache", "db", "web"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}
}

func TestFileFormatIsBarePid(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Set("api", 4242); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "api.pid"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "4242\n" {
		t.Fatalf("registry file content = %q, want bare pid line", string(b))
	}
}

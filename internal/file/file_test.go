package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSONAtomicCreatesParents(t *testing.T) {
	target := filepath.Join(t.TempDir(), "jobs", "t1", "status.json")
	if err := WriteJSONAtomic(target, map[string]int{"progress": 40}); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["progress"] != 40 {
		t.Fatalf("unexpected content %s", raw)
	}
}

func TestCopyAtomicReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.xlsx")
	if err := os.WriteFile(target, []byte("old"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := CopyAtomic(target, strings.NewReader("new")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	raw, _ := os.ReadFile(target)
	if string(raw) != "new" {
		t.Fatalf("expected replaced content, got %q", raw)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestEnsureDirRejectsEmpty(t *testing.T) {
	if err := EnsureDir(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/orbyt/pkg/adapter"
)

func TestFsWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	res, err := a.Execute("fs.write", map[string]any{"path": "out.txt", "content": "hello"}, adapter.Context{})
	if err != nil || !res.Success {
		t.Fatalf("write failed: %v %+v", err, res)
	}

	res, err = a.Execute("fs.read", map[string]any{"path": "out.txt"}, adapter.Context{})
	if err != nil || !res.Success {
		t.Fatalf("read failed: %v %+v", err, res)
	}
	data := res.Data.(map[string]any)
	if data["content"] != "hello" {
		t.Errorf("got content %v", data["content"])
	}
}

func TestFsRejectsAbsolutePath(t *testing.T) {
	a := New(t.TempDir())
	res, err := a.Execute("fs.read", map[string]any{"path": "/etc/passwd"}, adapter.Context{})
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure for absolute path")
	}
}

func TestFsRejectsEscapingRoot(t *testing.T) {
	a := New(t.TempDir())
	res, _ := a.Execute("fs.read", map[string]any{"path": "../../etc/passwd"}, adapter.Context{})
	if res.Success {
		t.Fatal("expected failure for path escaping root")
	}
}

func TestFsList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := New(dir)
	res, err := a.Execute("fs.list", map[string]any{"path": "."}, adapter.Context{})
	if err != nil || !res.Success {
		t.Fatalf("list failed: %v %+v", err, res)
	}
	data := res.Data.(map[string]any)
	entries, ok := data["entries"].([]string)
	if !ok || len(entries) != 1 || entries[0] != "a.txt" {
		t.Errorf("got entries %v", data["entries"])
	}
}

func TestFsReadOverMaxSizeFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	a := New(dir)
	a.MaxFileSize = 5
	res, _ := a.Execute("fs.read", map[string]any{"path": "big.txt"}, adapter.Context{})
	if res.Success {
		t.Fatal("expected failure for oversized read")
	}
	if res.Error.Code != "LimitExceeded" {
		t.Errorf("got code %v", res.Error.Code)
	}
}

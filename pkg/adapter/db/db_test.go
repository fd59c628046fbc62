package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tombee/orbyt/pkg/adapter"
)

func TestDbExecThenQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	ctx := adapter.Context{Ctx: context.Background()}

	res, err := a.Execute("db.exec", map[string]any{"query": "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"}, ctx)
	if err != nil || !res.Success {
		t.Fatalf("create table failed: %v %+v", err, res)
	}

	res, err = a.Execute("db.exec", map[string]any{
		"query":  "INSERT INTO widgets (name) VALUES (?)",
		"params": []any{"sprocket"},
	}, ctx)
	if err != nil || !res.Success {
		t.Fatalf("insert failed: %v %+v", err, res)
	}

	res, err = a.Execute("db.query", map[string]any{"query": "SELECT id, name FROM widgets"}, ctx)
	if err != nil || !res.Success {
		t.Fatalf("query failed: %v %+v", err, res)
	}
	data := res.Data.(map[string]any)
	if data["count"] != 1 {
		t.Errorf("got count %v", data["count"])
	}
}

func TestDbExecInvalidQueryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	res, _ := a.Execute("db.query", map[string]any{"query": "SELECT * FROM nonexistent"}, adapter.Context{Ctx: context.Background()})
	if res.Success {
		t.Fatal("expected failure for query against missing table")
	}
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package db is the reference "db" adapter: parameterized query/exec
// against a pure-Go SQLite database, grounded on the teacher's sqlite
// storage backend (single-writer connection pool, pragma configuration).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/orbyt/pkg/adapter"
)

// Adapter implements the db adapter against a single *sql.DB.
type Adapter struct {
	db *sql.DB
}

// Open opens path as a SQLite database, matching the teacher's
// single-writer-connection convention (SQLite serializes writes).
func Open(path string) (*Adapter, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring pragmas: %w", err)
	}
	return &Adapter{db: conn}, nil
}

// Close releases the underlying connection.
func (a *Adapter) Close() error { return a.db.Close() }

func (a *Adapter) Name() string               { return "db" }
func (a *Adapter) Version() string            { return "1.0.0" }
func (a *Adapter) SupportedActions() []string { return []string{"db.query", "db.exec"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: false, Cacheable: false, Idempotent: false, Cost: "low"}
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	query, ok := input["query"].(string)
	if !ok || query == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "\"query\" is required and must be a non-empty string",
			Code:    "InputValidation",
		}}, nil
	}
	params := toArgs(input["params"])

	runCtx := ctx.Ctx
	if runCtx == nil {
		runCtx = context.Background()
	}

	start := time.Now()
	switch action {
	case "db.query":
		return a.query(runCtx, query, params, start)
	case "db.exec":
		return a.exec(runCtx, query, params, start)
	default:
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "unsupported db action " + action, Code: "UnknownAction"}}, nil
	}
}

func (a *Adapter) query(ctx context.Context, query string, params []any, start time.Time) (adapter.Result, error) {
	rows, err := a.db.QueryContext(ctx, query, params...)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	return adapter.Result{
		Success:    true,
		Data:       map[string]any{"rows": out, "count": len(out)},
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func (a *Adapter) exec(ctx context.Context, query string, params []any, start time.Time) (adapter.Result, error) {
	res, err := a.db.ExecContext(ctx, query, params...)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	rowsAffected, _ := res.RowsAffected()
	lastInsertID, _ := res.LastInsertId()
	return adapter.Result{
		Success:    true,
		Data:       map[string]any{"rowsAffected": rowsAffected, "lastInsertId": lastInsertID},
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func toArgs(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

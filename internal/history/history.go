// Package history keeps a local, append-only record of task executions.
//
// It is a convenience mirror of the remote per-tenant logs: the HTTP API
// serves its tail without a remote round trip. It currently supports:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"automo/pkg/logx"
)

// Record is one execution, local form. Keep it compact and schema-stable.
type Record struct {
	At       time.Time `json:"at"`
	TenantID string    `json:"tenantId"`
	TaskID   string    `json:"taskId"`
	TaskName string    `json:"taskName"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	TookMS   int64     `json:"tookMs"`
}

// Store is the minimal persistence API used by the executor and HTTP layer.
type Store interface {
	Append(ctx context.Context, r Record) error

	// Tail returns up to limit most recent records, oldest first.
	Tail(ctx context.Context, limit int) ([]Record, error)

	Close() error
}

// Config configures history storage.
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	KeepRecords int           // ring size for file driver; 0 means default
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}

package store

import (
	"context"
	"path"
)

// Task types.
const (
	TypeURL      = "url"
	TypeRemoteOp = "remote-op"
)

// Remote-op actions.
const (
	ActionDelete      = "delete"
	ActionDeleteOld   = "delete_old"
	ActionBackup      = "backup"
	ActionArchive     = "archive"
	ActionCleanupNull = "cleanup_null"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Plan tiers.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// Task is a tenant-defined recurring job. Timestamps are unix milliseconds
// (the wire format the dashboard writes).
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Schedule string `json:"schedule"`
	Enabled  bool   `json:"enabled"`

	// IsPaid is fixed at creation: true when the task was created beyond
	// the free tier. Paid runs consume one credit each.
	IsPaid bool `json:"isPaid"`

	// Type "url".
	URL string `json:"url,omitempty"`

	// Type "remote-op": opaque target config + credential blob, both raw
	// JSON strings supplied per task.
	FirebaseConfig string `json:"firebaseConfig,omitempty"`
	ServiceAccount string `json:"serviceAccount,omitempty"`
	Action         string `json:"action,omitempty"`
	TargetPath     string `json:"targetPath,omitempty"`
	OlderThanDays  int    `json:"olderThanDays,omitempty"`

	// Run stats, written by the executor.
	LastRun  int64  `json:"lastRun,omitempty"`
	RunCount int    `json:"runCount,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Plan is the per-tenant credit account.
type Plan struct {
	Plan         string `json:"plan"`
	Credits      int    `json:"credits"`
	LastPurchase int64  `json:"lastPurchase,omitempty"`
}

// LogEntry is an append-only execution record. It snapshots the task id and
// name so it survives task deletion.
type LogEntry struct {
	TaskID    string `json:"taskId"`
	TaskName  string `json:"taskName"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Tree layout helpers.

func UsersPath() string              { return "users" }
func TasksPath(tenantID string) string { return path.Join("users", tenantID, "tasks") }
func TaskPath(tenantID, taskID string) string {
	return path.Join("users", tenantID, "tasks", taskID)
}
func PlanPath(tenantID string) string { return path.Join("users", tenantID, "plan") }
func LogsPath(tenantID string) string { return path.Join("users", tenantID, "logs") }

// GetTask reads a single task. It returns nil (and no error) when the task
// does not exist.
func GetTask(ctx context.Context, s Store, tenantID, taskID string) (*Task, error) {
	var t *Task
	if err := s.Get(ctx, TaskPath(tenantID, taskID), &t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetPlan reads a tenant's plan. A missing plan reads as the zero free plan,
// mirroring how the dashboard treats new accounts.
func GetPlan(ctx context.Context, s Store, tenantID string) (Plan, error) {
	var p *Plan
	if err := s.Get(ctx, PlanPath(tenantID), &p); err != nil {
		return Plan{}, err
	}
	if p == nil {
		return Plan{Plan: PlanFree}, nil
	}
	return *p, nil
}

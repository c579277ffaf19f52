package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"automo/internal/store"
)

// runRemoteOp performs one maintenance action against the task's remote
// target. The connection is scoped to this invocation and released on every
// exit path; the whole run is capped by RemoteOpTimeout.
func (s *Service) runRemoteOp(ctx context.Context, t store.Task) Outcome {
	action := strings.TrimSpace(t.Action)
	switch action {
	case store.ActionDelete, store.ActionDeleteOld, store.ActionBackup,
		store.ActionArchive, store.ActionCleanupNull:
	default:
		// Unrecognized actions never reach the remote target.
		return Outcome{Success: false, Message: "Unknown action: " + t.Action}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteOpTimeout)
	defer cancel()

	conn, err := s.targets.Open(ctx, t.FirebaseConfig, t.ServiceAccount)
	if err != nil {
		return Outcome{Success: false, Message: err.Error()}
	}
	defer func() { _ = conn.Close() }()

	out, err := runAction(ctx, conn, action, t)
	if err != nil {
		return Outcome{Success: false, Message: err.Error()}
	}
	return out
}

func runAction(ctx context.Context, conn TargetConn, action string, t store.Task) (Outcome, error) {
	switch action {
	case store.ActionDelete:
		return actionDelete(ctx, conn, t.TargetPath)
	case store.ActionDeleteOld:
		return actionDeleteOld(ctx, conn, t.TargetPath, t.OlderThanDays)
	case store.ActionBackup:
		return actionCopy(ctx, conn, t.TargetPath, copyBackup)
	case store.ActionArchive:
		return actionCopy(ctx, conn, t.TargetPath, copyArchive)
	case store.ActionCleanupNull:
		return actionCleanupNull(ctx, conn, t.TargetPath)
	}
	return Outcome{}, fmt.Errorf("unknown action: %s", action)
}

func actionDelete(ctx context.Context, conn TargetConn, path string) (Outcome, error) {
	var data any
	if err := conn.Get(ctx, path, &data); err != nil {
		return Outcome{}, err
	}
	count := 0
	if m, ok := data.(map[string]any); ok {
		count = len(m)
	}
	if err := conn.Delete(ctx, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Message: fmt.Sprintf("Deleted %d items at %s", count, path)}, nil
}

func actionDeleteOld(ctx context.Context, conn TargetConn, path string, olderThanDays int) (Outcome, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).UnixMilli()
	old, err := conn.QueryEndAt(ctx, path, "timestamp", float64(cutoff))
	if err != nil {
		return Outcome{}, err
	}
	if len(old) > 0 {
		updates := make(map[string]any, len(old))
		for key := range old {
			updates[key] = nil
		}
		if err := conn.Update(ctx, path, updates); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Success: true, Message: fmt.Sprintf("Deleted %d old items", len(old))}, nil
}

type copyMode struct {
	prefix    string // destination root
	stampKey  string // wrapper timestamp field
	deleteSrc bool
	verb      string // message verb, past tense
	emptyMsg  string
}

var (
	copyBackup  = copyMode{prefix: "backups", stampKey: "backedUpAt", verb: "Backed up", emptyMsg: "No data to backup"}
	copyArchive = copyMode{prefix: "archives", stampKey: "archivedAt", deleteSrc: true, verb: "Archived", emptyMsg: "No data to archive"}
)

func actionCopy(ctx context.Context, conn TargetConn, path string, mode copyMode) (Outcome, error) {
	var data any
	if err := conn.Get(ctx, path, &data); err != nil {
		return Outcome{}, err
	}
	if data == nil {
		return Outcome{Success: true, Message: mode.emptyMsg}, nil
	}

	now := time.Now().UnixMilli()
	dst := fmt.Sprintf("%s/%s_%d", mode.prefix, strings.ReplaceAll(path, "/", "_"), now)
	wrapped := map[string]any{"data": data, mode.stampKey: now}
	if err := conn.Set(ctx, dst, wrapped); err != nil {
		return Outcome{}, err
	}
	if mode.deleteSrc {
		if err := conn.Delete(ctx, path); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Success: true, Message: fmt.Sprintf("%s to %s", mode.verb, dst)}, nil
}

func actionCleanupNull(ctx context.Context, conn TargetConn, path string) (Outcome, error) {
	var data any
	if err := conn.Get(ctx, path, &data); err != nil {
		return Outcome{}, err
	}
	obj, ok := data.(map[string]any)
	if !ok {
		// Missing or scalar-valued path has no children to clean.
		return Outcome{Success: true, Message: "No nulls found"}, nil
	}

	updates := map[string]any{}
	for key, val := range obj {
		if val == nil {
			updates[key] = nil
		}
	}
	if len(updates) > 0 {
		if err := conn.Update(ctx, path, updates); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Success: true, Message: fmt.Sprintf("Cleaned %d null values", len(updates))}, nil
}

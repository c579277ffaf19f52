package executor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"automo/internal/store"
	"automo/pkg/logx"
)

// fakeConn is an in-memory TargetConn keyed by full path.
type fakeConn struct {
	data   map[string]any
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{data: map[string]any{}} }

func (c *fakeConn) Get(_ context.Context, path string, v any) error {
	b, err := json.Marshal(c.data[path])
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (c *fakeConn) Set(_ context.Context, path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var nv any
	if err := json.Unmarshal(b, &nv); err != nil {
		return err
	}
	c.data[path] = nv
	return nil
}

func (c *fakeConn) Update(_ context.Context, path string, fields map[string]any) error {
	obj, ok := c.data[path].(map[string]any)
	if !ok {
		obj = map[string]any{}
		c.data[path] = obj
	}
	for k, v := range fields {
		if v == nil {
			delete(obj, k)
		} else {
			obj[k] = v
		}
	}
	return nil
}

func (c *fakeConn) Delete(_ context.Context, path string) error {
	delete(c.data, path)
	return nil
}

func (c *fakeConn) QueryEndAt(_ context.Context, path, child string, bound float64) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	obj, ok := c.data[path].(map[string]any)
	if !ok {
		return out, nil
	}
	for k, v := range obj {
		cm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		num, ok := cm[child].(float64)
		if !ok || num > bound {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return out, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeOpener struct {
	conn  *fakeConn
	opens int
}

func (o *fakeOpener) Open(_ context.Context, _, _ string) (TargetConn, error) {
	o.opens++
	return o.conn, nil
}

func newRemoteOpService(t *testing.T, conn *fakeConn) (*Service, *fakeOpener) {
	t.Helper()
	opener := &fakeOpener{conn: conn}
	return New(Config{}, nil, opener, logx.Nop()), opener
}

func TestRemoteOpDelete(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.data["logs"] = map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionDelete, TargetPath: "logs",
	})
	if !out.Success {
		t.Fatalf("failed: %s", out.Message)
	}
	if out.Message != "Deleted 3 items at logs" {
		t.Fatalf("message = %q", out.Message)
	}
	if _, ok := conn.data["logs"]; ok {
		t.Fatal("target path still present")
	}
	if !conn.closed {
		t.Fatal("connection not released")
	}
}

func TestRemoteOpDeleteOld(t *testing.T) {
	t.Parallel()
	now := time.Now().UnixMilli()
	day := int64(24 * time.Hour / time.Millisecond)
	conn := newFakeConn()
	conn.data["events"] = map[string]any{
		"stale": map[string]any{"timestamp": float64(now - 40*day)},
		"fresh": map[string]any{"timestamp": float64(now - 10*day)},
	}
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionDeleteOld, TargetPath: "events", OlderThanDays: 30,
	})
	if !out.Success {
		t.Fatalf("failed: %s", out.Message)
	}
	if out.Message != "Deleted 1 old items" {
		t.Fatalf("message = %q", out.Message)
	}
	obj := conn.data["events"].(map[string]any)
	if _, ok := obj["stale"]; ok {
		t.Fatal("stale entry survived")
	}
	if _, ok := obj["fresh"]; !ok {
		t.Fatal("fresh entry deleted")
	}
}

func TestRemoteOpBackup(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.data["app/settings"] = map[string]any{"theme": "dark"}
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionBackup, TargetPath: "app/settings",
	})
	if !out.Success {
		t.Fatalf("failed: %s", out.Message)
	}
	if !strings.HasPrefix(out.Message, "Backed up to backups/app_settings_") {
		t.Fatalf("message = %q", out.Message)
	}
	if _, ok := conn.data["app/settings"]; !ok {
		t.Fatal("backup must not delete the source")
	}

	dst := strings.TrimPrefix(out.Message, "Backed up to ")
	wrapped, ok := conn.data[dst].(map[string]any)
	if !ok {
		t.Fatalf("no data at %q", dst)
	}
	if _, ok := wrapped["data"]; !ok {
		t.Fatal("backup missing data field")
	}
	if _, ok := wrapped["backedUpAt"]; !ok {
		t.Fatal("backup missing backedUpAt stamp")
	}
}

func TestRemoteOpBackupEmpty(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionBackup, TargetPath: "nothing/here",
	})
	if !out.Success || out.Message != "No data to backup" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(conn.data) != 0 {
		t.Fatalf("empty backup wrote data: %v", conn.data)
	}
}

func TestRemoteOpArchive(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.data["old/logs"] = map[string]any{"x": 1.0}
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionArchive, TargetPath: "old/logs",
	})
	if !out.Success {
		t.Fatalf("failed: %s", out.Message)
	}
	if !strings.HasPrefix(out.Message, "Archived to archives/old_logs_") {
		t.Fatalf("message = %q", out.Message)
	}
	if _, ok := conn.data["old/logs"]; ok {
		t.Fatal("archive must delete the source")
	}
	dst := strings.TrimPrefix(out.Message, "Archived to ")
	wrapped, ok := conn.data[dst].(map[string]any)
	if !ok {
		t.Fatalf("no data at %q", dst)
	}
	if _, ok := wrapped["archivedAt"]; !ok {
		t.Fatal("archive missing archivedAt stamp")
	}
}

func TestRemoteOpCleanupNull(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.data["cache"] = map[string]any{"a": nil, "b": "keep", "c": nil}
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionCleanupNull, TargetPath: "cache",
	})
	if !out.Success || out.Message != "Cleaned 2 null values" {
		t.Fatalf("outcome = %+v", out)
	}
	obj := conn.data["cache"].(map[string]any)
	if len(obj) != 1 {
		t.Fatalf("cache after cleanup = %v", obj)
	}
}

func TestRemoteOpCleanupNullScalar(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	conn.data["counter"] = 42.0
	svc, _ := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: store.ActionCleanupNull, TargetPath: "counter",
	})
	if !out.Success || out.Message != "No nulls found" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRemoteOpUnknownAction(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	svc, opener := newRemoteOpService(t, conn)

	out := svc.runRemoteOp(context.Background(), store.Task{
		Type: store.TypeRemoteOp, Action: "shred", TargetPath: "x",
	})
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Message != "Unknown action: shred" {
		t.Fatalf("message = %q", out.Message)
	}
	if opener.opens != 0 {
		t.Fatal("unknown action must not open a target connection")
	}
}

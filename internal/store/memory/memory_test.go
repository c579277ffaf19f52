package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"automo/internal/store"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	task := store.Task{ID: "t1", Name: "ping", Type: store.TypeURL, Schedule: "* * * * *", Enabled: true}
	if err := s.Set(ctx, store.TaskPath("u1", "t1"), task); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	var got *store.Task
	if err := s.Get(ctx, store.TaskPath("u1", "t1"), &got); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || got.Name != "ping" || !got.Enabled {
		t.Fatalf("unexpected task: %+v", got)
	}

	if err := s.Delete(ctx, store.TaskPath("u1", "t1")); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	got = nil
	if err := s.Get(ctx, store.TaskPath("u1", "t1"), &got); err != nil {
		t.Fatalf("Get after delete error: %v", err)
	}
	if got != nil {
		t.Fatalf("task still present after delete: %+v", got)
	}
}

func TestUpdateNilDeletesField(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "items/a", map[string]any{"keep": 1, "drop": 2}); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Update(ctx, "items/a", map[string]any{"drop": nil, "added": 3}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	var got map[string]float64
	if err := s.Get(ctx, "items/a", &got); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, ok := got["drop"]; ok {
		t.Fatal("nil update did not delete field")
	}
	if got["keep"] != 1 || got["added"] != 3 {
		t.Fatalf("unexpected fields: %v", got)
	}
}

func TestPushKeysUniqueAndOrdered(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		k, err := s.Push(ctx, "users/u1/logs", store.LogEntry{TaskID: "t1"})
		if err != nil {
			t.Fatalf("Push error: %v", err)
		}
		keys = append(keys, k)
		time.Sleep(2 * time.Millisecond)
	}

	seen := map[string]bool{}
	for i, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate push key %q", k)
		}
		seen[k] = true
		if i > 0 && !(keys[i-1] < k) {
			t.Fatalf("keys not in insertion order: %q >= %q", keys[i-1], k)
		}
	}

	var logs map[string]store.LogEntry
	if err := s.Get(ctx, "users/u1/logs", &logs); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
}

func TestQueryEndAt(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "logs/a", map[string]any{"timestamp": 100})
	_ = s.Set(ctx, "logs/b", map[string]any{"timestamp": 200})
	_ = s.Set(ctx, "logs/c", map[string]any{"timestamp": 300})

	got, err := s.QueryEndAt(ctx, "logs", "timestamp", 200)
	if err != nil {
		t.Fatalf("QueryEndAt error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if _, ok := got["c"]; ok {
		t.Fatal("entry above bound returned")
	}
}

func TestTransactConditional(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "users/u1/plan", store.Plan{Plan: store.PlanPremium, Credits: 1})

	debit := func(cur json.RawMessage) (any, error) {
		var p *store.Plan
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, err
		}
		if p == nil || p.Credits <= 0 {
			return nil, errors.New("empty")
		}
		p.Credits--
		return p, nil
	}

	if err := s.Transact(ctx, "users/u1/plan", debit); err != nil {
		t.Fatalf("Transact error: %v", err)
	}
	if err := s.Transact(ctx, "users/u1/plan", debit); err == nil {
		t.Fatal("expected error on empty balance")
	}

	var p store.Plan
	if err := s.Get(ctx, "users/u1/plan", &p); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if p.Credits != 0 {
		t.Fatalf("Credits = %d, want 0 (failed transaction must not write)", p.Credits)
	}
}

func TestWatchValueReplayAndChange(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "users/u1/tasks/t1", store.Task{ID: "t1", Name: "a"})

	var mu sync.Mutex
	var snaps []json.RawMessage
	unsub, err := s.Watch("users/u1/tasks", store.EventValue, func(snap store.Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap.Data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	defer unsub()
	s.Flush()

	mu.Lock()
	if len(snaps) != 1 {
		mu.Unlock()
		t.Fatalf("replay count = %d, want 1", len(snaps))
	}
	var tasks map[string]store.Task
	if err := json.Unmarshal(snaps[0], &tasks); err != nil {
		t.Fatalf("bad replay snapshot: %v", err)
	}
	mu.Unlock()
	if tasks["t1"].Name != "a" {
		t.Fatalf("replay missing task: %v", tasks)
	}

	_ = s.Set(ctx, "users/u1/tasks/t2", store.Task{ID: "t2", Name: "b"})
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2", len(snaps))
	}
	if err := json.Unmarshal(snaps[1], &tasks); err != nil {
		t.Fatalf("bad snapshot: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
}

func TestWatchChildEvents(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "users/u1/plan", store.Plan{Plan: store.PlanFree})

	var mu sync.Mutex
	added := map[string]bool{}
	removed := map[string]bool{}

	unsubAdd, err := s.Watch("users", store.EventChildAdded, func(snap store.Snapshot) {
		mu.Lock()
		added[snap.Key] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	defer unsubAdd()
	unsubDel, err := s.Watch("users", store.EventChildRemoved, func(snap store.Snapshot) {
		mu.Lock()
		removed[snap.Key] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	defer unsubDel()
	s.Flush()

	mu.Lock()
	if !added["u1"] {
		mu.Unlock()
		t.Fatal("existing child not replayed on attach")
	}
	mu.Unlock()

	_ = s.Set(ctx, "users/u2/plan", store.Plan{Plan: store.PlanFree})
	_ = s.Delete(ctx, "users/u1")
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	if !added["u2"] {
		t.Fatal("child_added not fired for new tenant")
	}
	if !removed["u1"] {
		t.Fatal("child_removed not fired for deleted tenant")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsub, err := s.Watch("items", store.EventValue, func(store.Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	s.Flush()
	unsub()

	_ = s.Set(ctx, "items/a", 1)
	s.Flush()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("callback fired %d times, want 1 (replay only)", count)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	s := New()
	s.Close()
	s.Close() // idempotent

	var v any
	if err := s.Get(context.Background(), "x", &v); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Get after close: err = %v, want ErrClosed", err)
	}
	if _, err := s.Watch("x", store.EventValue, func(store.Snapshot) {}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Watch after close: err = %v, want ErrClosed", err)
	}
}

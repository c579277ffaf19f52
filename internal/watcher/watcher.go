// Package watcher keeps the timer registry in sync with the stored task
// definitions across the whole tenant population.
//
// It deliberately subscribes only to bounded streams: tenant discovery uses
// child events on "users" (keys only), and per-tenant subscriptions cover
// the tasks sub-collection alone — never the full tenant record, whose logs
// grow without bound.
package watcher

import (
	"context"
	"encoding/json"
	"sync"

	"automo/internal/scheduler"
	"automo/internal/store"
	"automo/pkg/logx"
)

type Watcher struct {
	st  store.Store
	reg *scheduler.Registry
	log logx.Logger

	mu      sync.Mutex
	tenants map[string]store.UnsubscribeFunc
	roots   []store.UnsubscribeFunc
	started bool
}

func New(st store.Store, reg *scheduler.Registry, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		st:      st,
		reg:     reg,
		log:     log,
		tenants: map[string]store.UnsubscribeFunc{},
	}
}

// Start attaches the tenant discovery watches. Existing tenants are replayed
// as child_added events, so stored tasks get their timers back on boot.
func (w *Watcher) Start(ctx context.Context) error {
	_ = ctx
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	added, err := w.st.Watch(store.UsersPath(), store.EventChildAdded, func(s store.Snapshot) {
		w.attach(s.Key)
	})
	if err != nil {
		return err
	}
	removed, err := w.st.Watch(store.UsersPath(), store.EventChildRemoved, func(s store.Snapshot) {
		w.tenantRemoved(s.Key)
	})
	if err != nil {
		added()
		return err
	}

	w.mu.Lock()
	w.roots = append(w.roots, added, removed)
	w.mu.Unlock()

	w.log.Info("watching for task changes")
	return nil
}

// Stop detaches every subscription. Timers are left to the registry's own
// shutdown.
func (w *Watcher) Stop() {
	w.mu.Lock()
	roots := w.roots
	w.roots = nil
	tenants := w.tenants
	w.tenants = map[string]store.UnsubscribeFunc{}
	w.started = false
	w.mu.Unlock()

	for _, unsub := range roots {
		unsub()
	}
	for _, unsub := range tenants {
		unsub()
	}
}

// attach subscribes to one tenant's task collection. A second attach for an
// already-watched tenant is a no-op.
func (w *Watcher) attach(tenantID string) {
	w.mu.Lock()
	if _, ok := w.tenants[tenantID]; ok {
		w.mu.Unlock()
		return
	}
	// Reserve the slot before subscribing so a concurrent attach backs off.
	w.tenants[tenantID] = func() {}
	w.mu.Unlock()

	unsub, err := w.st.Watch(store.TasksPath(tenantID), store.EventValue, func(s store.Snapshot) {
		w.reconcile(tenantID, s.Data)
	})
	if err != nil {
		w.mu.Lock()
		delete(w.tenants, tenantID)
		w.mu.Unlock()
		w.log.Warn("tenant watch failed", logx.String("tenant", tenantID), logx.Err(err))
		return
	}

	w.mu.Lock()
	w.tenants[tenantID] = unsub
	w.mu.Unlock()
	w.log.Debug("tenant watch attached", logx.String("tenant", tenantID))
}

func (w *Watcher) tenantRemoved(tenantID string) {
	w.mu.Lock()
	unsub, ok := w.tenants[tenantID]
	delete(w.tenants, tenantID)
	w.mu.Unlock()

	if ok {
		unsub()
	}
	n := w.reg.CancelTenant(tenantID)
	w.log.Info("tenant removed", logx.String("tenant", tenantID), logx.Int("cancelled", n))
}

// reconcile drives the registry toward the emitted task snapshot. It is
// idempotent: re-emitting an unchanged snapshot (say, after a stat write)
// leaves the live-timer set equal, timer identity aside.
func (w *Watcher) reconcile(tenantID string, raw json.RawMessage) {
	var tasks map[string]store.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		w.log.Warn("bad task snapshot", logx.String("tenant", tenantID), logx.Err(err))
		return
	}

	for id, t := range tasks {
		if t.ID == "" {
			t.ID = id
		}
		if t.Enabled {
			// Schedule logs its own warning when the schedule is invalid;
			// the key simply stays absent.
			_ = w.reg.Schedule(tenantID, t)
		} else {
			w.reg.Cancel(scheduler.Key{TenantID: tenantID, TaskID: id})
		}
	}

	// Timers whose task vanished from the snapshot are stale.
	for _, liveID := range w.reg.TaskIDs(tenantID) {
		if _, ok := tasks[liveID]; !ok {
			w.reg.Cancel(scheduler.Key{TenantID: tenantID, TaskID: liveID})
		}
	}
}

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"automo/internal/store"
	"automo/pkg/logx"
)

// Key identifies one timer: a task within a tenant.
type Key struct {
	TenantID string
	TaskID   string
}

func (k Key) String() string { return k.TenantID + "_" + k.TaskID }

// RunFunc executes a task at fire time. It receives the freshly re-read
// task, never the snapshot the timer was created from.
type RunFunc func(ctx context.Context, tenantID string, task store.Task)

type Config struct {
	// Timezone is an IANA zone name for cron evaluation. Defaults to UTC.
	Timezone string
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Registry maps (tenant, task) to at most one live cron entry.
//
// All mutations go through the mutex: a cancel for a key always completes
// before the replacement entry is installed, so there is never a window
// with two live timers for the same key.
type Registry struct {
	mu sync.Mutex

	log logx.Logger
	st  store.Store
	run RunFunc

	parser  cron.Parser
	c       *cron.Cron
	loc     *time.Location
	entries map[Key]entry

	fireCtx context.Context
}

func New(cfg Config, st store.Store, run RunFunc, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := loadLocation(cfg.Timezone, log)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Registry{
		log:     log,
		st:      st,
		run:     run,
		parser:  parser,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		loc:     loc,
		entries: map[Key]entry{},
		fireCtx: context.Background(),
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Start begins firing timers. Schedule/Cancel work before Start; entries
// registered early simply wait.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.fireCtx = ctx
	r.mu.Unlock()
	r.c.Start()
	r.log.Info("timer registry started", logx.String("tz", r.loc.String()))
}

// Stop halts firing and waits for in-flight runs started by cron to return.
func (r *Registry) Stop(ctx context.Context) {
	done := r.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	r.mu.Lock()
	r.entries = map[Key]entry{}
	r.mu.Unlock()
	r.log.Info("timer registry stopped")
}

// Schedule installs the timer for a task, replacing any existing timer for
// the same key first. An invalid or missing schedule leaves the key absent
// and is reported once via a warning.
func (r *Registry) Schedule(tenantID string, t store.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{TenantID: tenantID, TaskID: t.ID}
	r.cancelLocked(key)

	spec := strings.TrimSpace(t.Schedule)
	if spec == "" {
		r.log.Warn("task has no schedule; leaving unscheduled",
			logx.String("key", key.String()), logx.String("task", t.Name))
		return fmt.Errorf("task %s: empty schedule", t.ID)
	}
	if _, err := r.parser.Parse(spec); err != nil {
		r.log.Warn("invalid schedule; leaving unscheduled",
			logx.String("key", key.String()), logx.String("spec", spec), logx.Err(err))
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	tenant, taskID := tenantID, t.ID
	id, err := r.c.AddFunc(spec, func() { r.fire(tenant, taskID) })
	if err != nil {
		// Parser accepted the spec above, so this is unexpected.
		r.log.Warn("schedule register failed", logx.String("key", key.String()), logx.Err(err))
		return err
	}
	r.entries[key] = entry{id: id, spec: spec}
	r.log.Debug("timer scheduled",
		logx.String("key", key.String()), logx.String("task", t.Name), logx.String("spec", spec))
	return nil
}

// fire runs on cron's per-entry goroutine. It re-reads the task so a run
// always acts on current data, and skips tasks that vanished or were
// disabled after the timer was installed.
func (r *Registry) fire(tenantID, taskID string) {
	r.mu.Lock()
	ctx := r.fireCtx
	r.mu.Unlock()

	cur, err := store.GetTask(ctx, r.st, tenantID, taskID)
	if err != nil {
		r.log.Warn("task reload failed; skipping run",
			logx.String("key", Key{tenantID, taskID}.String()), logx.Err(err))
		return
	}
	if cur == nil || !cur.Enabled {
		return
	}
	r.run(ctx, tenantID, *cur)
}

// Cancel stops and removes the timer for key. No-op when absent.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(key)
}

func (r *Registry) cancelLocked(key Key) bool {
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	r.c.Remove(e.id)
	delete(r.entries, key)
	r.log.Debug("timer cancelled", logx.String("key", key.String()))
	return true
}

// CancelTenant removes every timer belonging to the tenant and reports how
// many were live.
func (r *Registry) CancelTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.entries {
		if key.TenantID == tenantID {
			r.cancelLocked(key)
			n++
		}
	}
	return n
}

// Has reports whether a live timer exists for key.
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Count returns the number of live timers across all tenants.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// TaskIDs returns the task ids with a live timer for the tenant.
func (r *Registry) TaskIDs(tenantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for key := range r.entries {
		if key.TenantID == tenantID {
			ids = append(ids, key.TaskID)
		}
	}
	return ids
}

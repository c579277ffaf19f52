package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"automo/internal/store"
	"automo/pkg/logx"
)

// watchSet polls every subscription from one goroutine, so callbacks are
// delivered on a single sequence the way the registry and watcher expect.
type watchSet struct {
	st       *Store
	interval time.Duration
	log      logx.Logger

	mu     sync.Mutex
	subs   map[uint64]*pollSub
	nextID uint64

	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

type pollSub struct {
	path string
	kind store.EventKind
	fn   store.WatchFunc

	// last observed state; owned by the poll goroutine.
	primed   bool
	lastVal  json.RawMessage
	lastKeys map[string]struct{}
}

func newWatchSet(st *Store, interval time.Duration, log logx.Logger) *watchSet {
	w := &watchSet{
		st:       st,
		interval: interval,
		log:      log,
		subs:     map[uint64]*pollSub{},
		stop:     make(chan struct{}),
	}
	w.stopped.Add(1)
	go w.loop()
	return w
}

func (w *watchSet) close() {
	w.once.Do(func() { close(w.stop) })
	w.stopped.Wait()
}

func (w *watchSet) add(path string, kind store.EventKind, fn store.WatchFunc) (store.UnsubscribeFunc, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.subs[id] = &pollSub{path: path, kind: kind, fn: fn}
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}, nil
}

func (w *watchSet) loop() {
	defer w.stopped.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

func (w *watchSet) pollAll() {
	w.mu.Lock()
	ids := make([]uint64, 0, len(w.subs))
	for id := range w.subs {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.mu.Lock()
		sub, ok := w.subs[id]
		w.mu.Unlock()
		if !ok {
			continue
		}
		w.pollOne(sub)
	}
}

func (w *watchSet) pollOne(sub *pollSub) {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	switch sub.kind {
	case store.EventValue:
		var raw json.RawMessage
		if err := w.st.Get(ctx, sub.path, &raw); err != nil {
			w.log.Warn("watch poll failed", logx.String("path", sub.path), logx.Err(err))
			return
		}
		if raw == nil {
			raw = json.RawMessage("null")
		}
		if sub.primed && bytes.Equal(raw, sub.lastVal) {
			return
		}
		sub.primed = true
		sub.lastVal = raw
		sub.fn(store.Snapshot{Data: raw})

	case store.EventChildAdded, store.EventChildRemoved:
		// Shallow read keeps the poll bounded regardless of child size.
		var shallow map[string]any
		if err := w.st.client.NewRef(sub.path).GetShallow(ctx, &shallow); err != nil {
			w.log.Warn("watch poll failed", logx.String("path", sub.path), logx.Err(err))
			return
		}
		keys := make(map[string]struct{}, len(shallow))
		for k := range shallow {
			keys[k] = struct{}{}
		}
		if !sub.primed {
			sub.primed = true
			sub.lastKeys = keys
			if sub.kind == store.EventChildAdded {
				for k := range keys {
					sub.fn(store.Snapshot{Key: k})
				}
			}
			return
		}
		if sub.kind == store.EventChildAdded {
			for k := range keys {
				if _, ok := sub.lastKeys[k]; !ok {
					sub.fn(store.Snapshot{Key: k})
				}
			}
		} else {
			for k := range sub.lastKeys {
				if _, ok := keys[k]; !ok {
					sub.fn(store.Snapshot{Key: k})
				}
			}
		}
		sub.lastKeys = keys
	}
}

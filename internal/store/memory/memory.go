// Package memory implements store.Store as an in-process document tree.
//
// It exists for tests and local development. Watch semantics follow the
// production backend: value subscriptions replay the current snapshot on
// attach and fire after every change in the watched subtree; child_added
// replays existing children on attach. All callbacks are delivered from a
// single dispatch goroutine, in mutation order.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"automo/internal/store"
)

type subscription struct {
	id   uint64
	path []string
	kind store.EventKind
	fn   store.WatchFunc
}

type event struct {
	subID uint64
	snap  store.Snapshot
	done  chan struct{} // flush marker when non-nil
}

type Store struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	events chan event
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	s := &Store{
		root:   map[string]any{},
		subs:   map[uint64]*subscription{},
		events: make(chan event, 1024),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatch()
	return s
}

func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

// Flush blocks until every event enqueued before the call has been delivered.
// Test helper; do not call from inside a watch callback.
func (s *Store) Flush() {
	done := make(chan struct{})
	select {
	case s.events <- event{done: done}:
	case <-s.stop:
		return
	}
	select {
	case <-done:
	case <-s.stop:
	}
}

func (s *Store) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.events:
			if ev.done != nil {
				close(ev.done)
				continue
			}
			s.mu.Lock()
			sub, ok := s.subs[ev.subID]
			s.mu.Unlock()
			if !ok {
				// Unsubscribed after the event was queued; drop it.
				continue
			}
			sub.fn(ev.snap)
		}
	}
}

func (s *Store) enqueueLocked(subID uint64, snap store.Snapshot) {
	select {
	case s.events <- event{subID: subID, snap: snap}:
	case <-s.stop:
	}
}

// ---- tree ops ----

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (s *Store) nodeLocked(segs []string) any {
	var cur any = s.root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

func (s *Store) setLocked(segs []string, v any) {
	if v == nil {
		s.deleteLocked(segs)
		return
	}
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			s.root = m
		}
		return
	}
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func (s *Store) deleteLocked(segs []string) {
	if len(segs) == 0 {
		s.root = map[string]any{}
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, cur)
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	parents = append(parents, cur)
	delete(cur, segs[len(segs)-1])

	// Empty objects do not exist in the tree; prune upward.
	for i := len(segs) - 2; i >= 0; i-- {
		m, ok := parents[i][segs[i]].(map[string]any)
		if ok && len(m) == 0 {
			delete(parents[i], segs[i])
		} else {
			break
		}
	}
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalNode(n any) json.RawMessage {
	if n == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(n)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func childKeys(n any) map[string]struct{} {
	keys := map[string]struct{}{}
	if m, ok := n.(map[string]any); ok {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func isPrefix(prefix, p []string) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if prefix[i] != p[i] {
			return false
		}
	}
	return true
}

// mutate applies fn to the tree and fires affected subscriptions.
// changed is the deepest path known to contain the whole change.
func (s *Store) mutate(changed []string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Child-key snapshots before the change, per child-watching sub.
	before := map[uint64]map[string]struct{}{}
	for id, sub := range s.subs {
		if sub.kind == store.EventChildAdded || sub.kind == store.EventChildRemoved {
			before[id] = childKeys(s.nodeLocked(sub.path))
		}
	}

	fn()

	for id, sub := range s.subs {
		switch sub.kind {
		case store.EventValue:
			// A value listener is affected when the change is inside its
			// subtree or at an ancestor of its path.
			if isPrefix(sub.path, changed) || isPrefix(changed, sub.path) {
				s.enqueueLocked(id, store.Snapshot{Data: marshalNode(s.nodeLocked(sub.path))})
			}
		case store.EventChildAdded:
			after := childKeys(s.nodeLocked(sub.path))
			for k := range after {
				if _, ok := before[id][k]; !ok {
					s.enqueueLocked(id, store.Snapshot{Key: k})
				}
			}
		case store.EventChildRemoved:
			after := childKeys(s.nodeLocked(sub.path))
			for k := range before[id] {
				if _, ok := after[k]; !ok {
					s.enqueueLocked(id, store.Snapshot{Key: k})
				}
			}
		}
	}
}

// ---- store.Store ----

func (s *Store) Get(ctx context.Context, path string, v any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	raw := marshalNode(s.nodeLocked(splitPath(path)))
	s.mu.Unlock()
	return json.Unmarshal(raw, v)
}

func (s *Store) Set(ctx context.Context, path string, v any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	nv, err := normalize(v)
	if err != nil {
		return err
	}
	segs := splitPath(path)
	s.mutate(segs, func() { s.setLocked(segs, nv) })
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	segs := splitPath(path)
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			norm[k] = nil
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}
	s.mutate(segs, func() {
		for k, v := range norm {
			child := append(append([]string{}, segs...), splitPath(k)...)
			if v == nil {
				s.deleteLocked(child)
			} else {
				s.setLocked(child, v)
			}
		}
	})
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	segs := splitPath(path)
	s.mutate(segs, func() { s.deleteLocked(segs) })
	return nil
}

func (s *Store) Push(ctx context.Context, path string, v any) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	nv, err := normalize(v)
	if err != nil {
		return "", err
	}
	// Time-prefixed so pushed children sort in insertion order, like the
	// production backend's generated keys.
	key := fmt.Sprintf("-%013d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	segs := append(splitPath(path), key)
	s.mutate(segs, func() { s.setLocked(segs, nv) })
	return key, nil
}

func (s *Store) QueryEndAt(ctx context.Context, path, child string, bound float64) (map[string]json.RawMessage, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]json.RawMessage{}
	node, ok := s.nodeLocked(splitPath(path)).(map[string]any)
	if !ok {
		return out, nil
	}
	for k, v := range node {
		cm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		num, ok := cm[child].(float64)
		if !ok || num > bound {
			continue
		}
		out[k] = marshalNode(v)
	}
	return out, nil
}

func (s *Store) Transact(ctx context.Context, path string, fn store.TransactFunc) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	segs := splitPath(path)
	var terr error
	s.mutate(segs, func() {
		cur := marshalNode(s.nodeLocked(segs))
		next, err := fn(cur)
		if err != nil {
			terr = err
			return
		}
		nv, err := normalize(next)
		if err != nil {
			terr = err
			return
		}
		s.setLocked(segs, nv)
	})
	return terr
}

func (s *Store) Watch(path string, kind store.EventKind, fn store.WatchFunc) (store.UnsubscribeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	s.nextID++
	id := s.nextID
	sub := &subscription{id: id, path: splitPath(path), kind: kind, fn: fn}
	s.subs[id] = sub

	// Replay current state on attach.
	switch kind {
	case store.EventValue:
		s.enqueueLocked(id, store.Snapshot{Data: marshalNode(s.nodeLocked(sub.path))})
	case store.EventChildAdded:
		for k := range childKeys(s.nodeLocked(sub.path)) {
			s.enqueueLocked(id, store.Snapshot{Key: k})
		}
	}

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

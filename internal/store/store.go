package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// EventKind selects what a Watch subscription reports.
type EventKind int

const (
	// EventValue delivers the full current value at the watched path,
	// once on attach and again after every change in the subtree.
	EventValue EventKind = iota

	// EventChildAdded delivers the key of each direct child, replaying
	// existing children on attach. Only the key is delivered; watchers
	// that need the value must read it, which keeps child events bounded
	// no matter how large the child record grows.
	EventChildAdded

	// EventChildRemoved delivers the key of a removed direct child.
	EventChildRemoved
)

// Snapshot is a single Watch emission.
//
// For EventValue, Data holds the JSON value at the watched path ("null"
// when the path is empty). For child events only Key is set.
type Snapshot struct {
	Key  string
	Data json.RawMessage
}

// WatchFunc receives snapshots. Implementations invoke all callbacks from a
// single dispatch sequence, so a callback never races another callback.
type WatchFunc func(Snapshot)

// UnsubscribeFunc detaches a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// TransactFunc is applied to the current value at a path and returns the
// replacement value. Returning an error aborts the transaction and leaves
// the stored value untouched.
type TransactFunc func(current json.RawMessage) (any, error)

// Store is the tenant document tree.
//
// Paths are slash-separated ("users/u1/tasks/t1"). Values are anything
// JSON-marshalable. A missing path reads as JSON null.
type Store interface {
	// Get decodes the value at path into v. Missing paths decode as null,
	// so pass a pointer-to-pointer when absence matters.
	Get(ctx context.Context, path string, v any) error

	// Set replaces the value at path.
	Set(ctx context.Context, path string, v any) error

	// Update applies a partial map to the object at path. A nil value
	// deletes that child.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error

	// Push stores v under a new generated key at path and returns the key.
	Push(ctx context.Context, path string, v any) (string, error)

	// QueryEndAt returns the direct children of path whose numeric child
	// field is <= bound, keyed by child key.
	QueryEndAt(ctx context.Context, path, child string, bound float64) (map[string]json.RawMessage, error)

	// Transact atomically replaces the value at path using fn.
	Transact(ctx context.Context, path string, fn TransactFunc) error

	// Watch attaches a subscription at path.
	Watch(path string, kind EventKind, fn WatchFunc) (UnsubscribeFunc, error)
}

// Package firebase implements store.Store against a Firebase Realtime
// Database using the Admin SDK.
//
// The Admin SDK for Go has no realtime listeners, so Watch is implemented by
// a single polling loop that diffs snapshots (see watch.go). Point
// operations map 1:1 onto SDK refs.
package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"automo/internal/store"
	"automo/pkg/logx"
)

type Config struct {
	// DatabaseURL is the RTDB instance URL.
	DatabaseURL string

	// ServiceAccount is the credential blob (JSON).
	ServiceAccount []byte

	// PollInterval is the watch polling period. Defaults to 5s.
	PollInterval time.Duration
}

type Store struct {
	client *db.Client
	log    logx.Logger

	watches *watchSet
}

var _ store.Store = (*Store)(nil)

// New connects to the database. Callers treat an error here as fatal: the
// service must not run without its data layer.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("firebase: database url is required")
	}
	if len(cfg.ServiceAccount) == 0 {
		return nil, errors.New("firebase: service account is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DatabaseURL},
		option.WithCredentialsJSON(cfg.ServiceAccount))
	if err != nil {
		return nil, err
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, err
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s := &Store{client: client, log: log}
	s.watches = newWatchSet(s, interval, log)
	return s, nil
}

// Close stops the watch loop. Pending callbacks are drained first.
func (s *Store) Close() {
	s.watches.close()
}

func (s *Store) Get(ctx context.Context, path string, v any) error {
	return s.client.NewRef(path).Get(ctx, v)
}

func (s *Store) Set(ctx context.Context, path string, v any) error {
	return s.client.NewRef(path).Set(ctx, v)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.client.NewRef(path).Update(ctx, fields)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.client.NewRef(path).Delete(ctx)
}

func (s *Store) Push(ctx context.Context, path string, v any) (string, error) {
	ref, err := s.client.NewRef(path).Push(ctx, v)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

func (s *Store) QueryEndAt(ctx context.Context, path, child string, bound float64) (map[string]json.RawMessage, error) {
	nodes, err := s.client.NewRef(path).OrderByChild(child).EndAt(bound).GetOrdered(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(nodes))
	for _, n := range nodes {
		var raw json.RawMessage
		if err := n.Unmarshal(&raw); err != nil {
			return nil, err
		}
		out[n.Key()] = raw
	}
	return out, nil
}

func (s *Store) Transact(ctx context.Context, path string, fn store.TransactFunc) error {
	return s.client.NewRef(path).Transaction(ctx, func(tn db.TransactionNode) (any, error) {
		var cur json.RawMessage
		if err := tn.Unmarshal(&cur); err != nil {
			return nil, err
		}
		return fn(cur)
	})
}

func (s *Store) Watch(path string, kind store.EventKind, fn store.WatchFunc) (store.UnsubscribeFunc, error) {
	return s.watches.add(path, kind, fn)
}

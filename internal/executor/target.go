package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// TargetConn is a short-lived connection to a task's remote document tree.
// Ownership is strictly local to one execution: acquire, run one action,
// release on every exit path.
type TargetConn interface {
	Get(ctx context.Context, path string, v any) error
	Set(ctx context.Context, path string, v any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	QueryEndAt(ctx context.Context, path, child string, bound float64) (map[string]json.RawMessage, error)
	Close() error
}

// TargetOpener builds a TargetConn from the per-task opaque config and
// credential blobs.
type TargetOpener interface {
	Open(ctx context.Context, configJSON, serviceAccountJSON string) (TargetConn, error)
}

// FirebaseTargets opens Realtime Database connections from per-task
// credentials.
type FirebaseTargets struct{}

var _ TargetOpener = FirebaseTargets{}

type targetConfig struct {
	DatabaseURL string `json:"databaseURL"`
}

func (FirebaseTargets) Open(ctx context.Context, configJSON, serviceAccountJSON string) (TargetConn, error) {
	var cfg targetConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, errors.New("invalid target config: " + err.Error())
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("target config is missing databaseURL")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DatabaseURL},
		option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		return nil, err
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, err
	}
	return &firebaseConn{client: client}, nil
}

type firebaseConn struct {
	client *db.Client
}

func (c *firebaseConn) Get(ctx context.Context, path string, v any) error {
	return c.client.NewRef(path).Get(ctx, v)
}

func (c *firebaseConn) Set(ctx context.Context, path string, v any) error {
	return c.client.NewRef(path).Set(ctx, v)
}

func (c *firebaseConn) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.client.NewRef(path).Update(ctx, fields)
}

func (c *firebaseConn) Delete(ctx context.Context, path string) error {
	return c.client.NewRef(path).Delete(ctx)
}

func (c *firebaseConn) QueryEndAt(ctx context.Context, path, child string, bound float64) (map[string]json.RawMessage, error) {
	nodes, err := c.client.NewRef(path).OrderByChild(child).EndAt(bound).GetOrdered(ctx)
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

// Close releases the connection. The SDK client holds no resources that
// outlive its transport, so this only severs our handle to it.
func (c *firebaseConn) Close() error {
	c.client = nil
	return nil
}

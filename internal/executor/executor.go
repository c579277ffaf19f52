// Package executor runs a single task to completion: credit gate, handler
// dispatch, log append, stats update. It never panics across its boundary;
// every failure becomes a failed Outcome.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"automo/internal/history"
	"automo/internal/store"
	"automo/pkg/logx"
)

// ErrNoCredits is returned by the credit debit when the balance is empty.
// The decrement is refused, never clamped negative.
var ErrNoCredits = errors.New("no credits remaining")

// msgNoCredits is the tenant-visible quota message. The dashboard matches on
// it, so the wording is load-bearing.
const msgNoCredits = "No credits remaining. Please purchase more."

// Outcome is the structured result of one execution.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Alerter receives failed-run notifications. Optional.
type Alerter interface {
	TaskFailed(tenantID, taskName, message string)
}

type Config struct {
	// PingTimeout caps the URL ping. Defaults to 30s.
	PingTimeout time.Duration

	// RemoteOpTimeout caps one remote-op invocation, connection setup
	// included. Defaults to 2m.
	RemoteOpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 30 * time.Second
	}
	if c.RemoteOpTimeout <= 0 {
		c.RemoteOpTimeout = 2 * time.Minute
	}
	return c
}

type Service struct {
	cfg     Config
	st      store.Store
	targets TargetOpener
	log     logx.Logger

	httpClient *http.Client

	hist   history.Store
	alerts Alerter
}

func New(cfg Config, st store.Store, targets TargetOpener, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg,
		st:         st,
		targets:    targets,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.PingTimeout},
	}
}

// SetHistory attaches the optional local run-history store.
func (s *Service) SetHistory(h history.Store) { s.hist = h }

// SetAlerter attaches the optional failed-run alerter.
func (s *Service) SetAlerter(a Alerter) { s.alerts = a }

// Execute runs one task and reports the outcome. Infrastructure errors from
// the debit, log append, or stats update are caught here: the outcome
// becomes a failure carrying the error text, it is logged, and the stats
// update is skipped for that run.
func (s *Service) Execute(ctx context.Context, tenantID string, t store.Task) Outcome {
	start := time.Now()
	s.log.Info("executing task",
		logx.String("tenant", tenantID), logx.String("task", t.Name), logx.String("type", t.Type))

	out, err := s.execute(ctx, tenantID, t)
	if err != nil {
		out = Outcome{Success: false, Message: err.Error()}
		if lerr := s.appendLog(ctx, tenantID, t, out); lerr != nil {
			s.log.Error("log append failed", logx.String("tenant", tenantID), logx.Err(lerr))
		}
	}

	s.record(ctx, tenantID, t, out, time.Since(start))

	if out.Success {
		s.log.Info("task finished",
			logx.String("tenant", tenantID), logx.String("task", t.Name), logx.String("msg", out.Message))
	} else {
		s.log.Warn("task failed",
			logx.String("tenant", tenantID), logx.String("task", t.Name), logx.String("msg", out.Message))
		if s.alerts != nil {
			s.alerts.TaskFailed(tenantID, t.Name, out.Message)
		}
	}
	return out
}

func (s *Service) execute(ctx context.Context, tenantID string, t store.Task) (Outcome, error) {
	if t.IsPaid {
		switch err := s.debitCredit(ctx, tenantID); {
		case errors.Is(err, ErrNoCredits):
			// Quota exhaustion is a normal failed run: no handler is
			// invoked and no stats are written.
			out := Outcome{Success: false, Message: msgNoCredits}
			if lerr := s.appendLog(ctx, tenantID, t, out); lerr != nil {
				return Outcome{}, lerr
			}
			return out, nil
		case err != nil:
			return Outcome{}, err
		}
	}

	var out Outcome
	switch t.Type {
	case store.TypeURL:
		out = s.pingURL(ctx, t.URL)
	case store.TypeRemoteOp:
		out = s.runRemoteOp(ctx, t)
	default:
		out = Outcome{Success: false, Message: "Unknown task type: " + t.Type}
	}

	if err := s.appendLog(ctx, tenantID, t, out); err != nil {
		return out, err
	}
	if err := s.updateStats(ctx, tenantID, t, out); err != nil {
		return out, err
	}
	return out, nil
}

// debitCredit takes one credit atomically. The conditional write inside the
// transaction is what keeps concurrent paid runs from spending a balance
// below zero.
func (s *Service) debitCredit(ctx context.Context, tenantID string) error {
	return s.st.Transact(ctx, store.PlanPath(tenantID), func(cur json.RawMessage) (any, error) {
		var p *store.Plan
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, err
		}
		if p == nil || p.Credits <= 0 {
			return nil, ErrNoCredits
		}
		p.Credits--
		return p, nil
	})
}

func (s *Service) appendLog(ctx context.Context, tenantID string, t store.Task, out Outcome) error {
	status := store.StatusFailed
	if out.Success {
		status = store.StatusSuccess
	}
	_, err := s.st.Push(ctx, store.LogsPath(tenantID), store.LogEntry{
		TaskID:    t.ID,
		TaskName:  t.Name,
		Type:      t.Type,
		Status:    status,
		Message:   out.Message,
		Timestamp: time.Now().UnixMilli(),
	})
	return err
}

func (s *Service) updateStats(ctx context.Context, tenantID string, t store.Task, out Outcome) error {
	status := store.StatusFailed
	if out.Success {
		status = store.StatusSuccess
	}
	return s.st.Update(ctx, store.TaskPath(tenantID, t.ID), map[string]any{
		"lastRun":  time.Now().UnixMilli(),
		"runCount": t.RunCount + 1,
		"status":   status,
	})
}

func (s *Service) record(ctx context.Context, tenantID string, t store.Task, out Outcome, took time.Duration) {
	if s.hist == nil {
		return
	}
	status := store.StatusFailed
	if out.Success {
		status = store.StatusSuccess
	}
	err := s.hist.Append(ctx, history.Record{
		At:       time.Now(),
		TenantID: tenantID,
		TaskID:   t.ID,
		TaskName: t.Name,
		Type:     t.Type,
		Status:   status,
		Message:  out.Message,
		TookMS:   took.Milliseconds(),
	})
	if err != nil {
		s.log.Warn("history append failed", logx.Err(err))
	}
}

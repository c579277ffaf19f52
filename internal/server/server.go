// Package server exposes the HTTP API: a status probe, manual task runs,
// and the local run-history tail. The dashboard talking to it is a separate
// deployment.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"automo/internal/executor"
	"automo/internal/history"
	"automo/internal/scheduler"
	"automo/internal/store"
	"automo/pkg/logx"
)

type Config struct {
	Address string
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = ":3000"
	}
	return c
}

type Server struct {
	cfg  Config
	log  logx.Logger
	st   store.Store
	reg  *scheduler.Registry
	exec *executor.Service
	hist history.Store

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, st store.Store, reg *scheduler.Registry, exec *executor.Service, hist history.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), log: log, st: st, reg: reg, exec: exec, hist: hist}
}

// Handler builds the route table. Split out so tests can drive it through
// httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/run-task", s.handleRunTask)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	return s.logRequests(mux)
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(sctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("dur", time.Since(start)))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "running",
		"service":    "automo",
		"activeJobs": s.reg.Count(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

type runTaskRequest struct {
	UserID string `json:"userId"`
	TaskID string `json:"taskId"`
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "Missing userId or taskId")
		return
	}

	task, err := store.GetTask(r.Context(), s.st, req.UserID, req.TaskID)
	if err != nil {
		s.log.Error("manual run lookup failed", logx.String("tenant", req.UserID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	result := s.exec.Execute(r.Context(), req.UserID, *task)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": result.Success,
		"result":  result,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, map[string]any{"records": []history.Record{}})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records, err := s.hist.Tail(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"automo/pkg/logx"
)

// fileStore is the dependency-free backend: an append-only JSON Lines file
// plus an in-memory ring serving Tail. The ring is rebuilt from the file's
// tail on open, so restarts keep recent records visible.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	ring []Record
	keep int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	keep := cfg.KeepRecords
	if keep <= 0 {
		keep = 200
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	ring := loadTail(path, keep)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, f: f, ring: ring, keep: keep}, nil
}

// loadTail replays the existing file, keeping the last keep records.
// Corrupt lines are skipped; a partial final line after a crash is normal.
func loadTail(path string, keep int) []Record {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var ring []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		ring = append(ring, r)
		if len(ring) > keep {
			ring = ring[len(ring)-keep:]
		}
	}
	return ring
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.ring = append(s.ring, r)
	if len(s.ring) > s.keep {
		s.ring = s.ring[len(s.ring)-s.keep:]
	}
	return nil
}

func (s *fileStore) Tail(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.ring) {
		limit = len(s.ring)
	}
	out := make([]Record, limit)
	copy(out, s.ring[len(s.ring)-limit:])
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

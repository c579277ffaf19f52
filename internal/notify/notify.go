// Package notify pushes failed-run alerts to an ops Telegram chat.
//
// Alerting is best-effort: the queue is bounded, sends are rate limited,
// and a full queue drops the alert rather than blocking an execution.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"automo/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
	QueueSize  int
}

type Service struct {
	log logx.Logger
	cfg Config

	bot     *tele.Bot
	limiter *rate.Limiter

	queue  chan string
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds the alert service. A disabled config yields a no-op service so
// callers never need a nil check.
func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, cfg: cfg, stop: make(chan struct{})}
	if !cfg.Enabled {
		return s, nil
	}
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("notify: token and chat_id are required when enabled")
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	s.bot = bot

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	s.queue = make(chan string, size)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if s.bot == nil {
		return
	}
	s.wg.Add(1)
	go s.worker(ctx)
	s.log.Info("alerting started", logx.Int64("chat", s.cfg.ChatID))
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// TaskFailed queues one alert. Never blocks.
func (s *Service) TaskFailed(tenantID, taskName, message string) {
	if s.bot == nil {
		return
	}
	text := fmt.Sprintf("❌ Task failed\ntenant: %s\ntask: %s\n%s", tenantID, taskName, message)
	select {
	case s.queue <- text:
	default:
		s.log.Warn("alert queue full, dropping alert", logx.String("task", taskName))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.sendOne(text); err != nil {
				s.log.Warn("alert send failed", logx.Err(err))
			}
		}
	}
}

func (s *Service) sendOne(text string) error {
	_, err := s.bot.Send(&tele.Chat{ID: s.cfg.ChatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

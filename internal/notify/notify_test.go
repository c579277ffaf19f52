package notify

import (
	"context"
	"testing"

	"automo/pkg/logx"
)

func TestDisabledServiceIsNoop(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Enabled: false}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	// None of these may touch the network or panic.
	s.Start(context.Background())
	s.TaskFailed("u1", "task", "boom")
	s.Stop()
	s.Stop() // idempotent
}

func TestEnabledRequiresTokenAndChat(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Enabled: true, ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := New(Config{Enabled: true, Token: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

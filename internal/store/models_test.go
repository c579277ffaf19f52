package store_test

import (
	"context"
	"testing"

	"automo/internal/store"
	"automo/internal/store/memory"
)

func TestPaths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got  string
		want string
	}{
		{store.UsersPath(), "users"},
		{store.TasksPath("u1"), "users/u1/tasks"},
		{store.TaskPath("u1", "t1"), "users/u1/tasks/t1"},
		{store.PlanPath("u1"), "users/u1/plan"},
		{store.LogsPath("u1"), "users/u1/logs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestGetTaskMissing(t *testing.T) {
	t.Parallel()
	st := memory.New()
	defer st.Close()

	got, err := store.GetTask(context.Background(), st, "u1", "nope")
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got != nil {
		t.Fatalf("missing task = %+v, want nil", got)
	}
}

func TestGetTaskRoundTrip(t *testing.T) {
	t.Parallel()
	st := memory.New()
	defer st.Close()
	ctx := context.Background()

	want := store.Task{
		ID: "t1", Name: "cleanup", Type: store.TypeRemoteOp,
		Schedule: "0 3 * * *", Enabled: true, IsPaid: true,
		Action: store.ActionDeleteOld, TargetPath: "logs", OlderThanDays: 30,
	}
	if err := st.Set(ctx, store.TaskPath("u1", "t1"), want); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := store.GetTask(ctx, st, "u1", "t1")
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestGetPlanDefaultsToFree(t *testing.T) {
	t.Parallel()
	st := memory.New()
	defer st.Close()

	plan, err := store.GetPlan(context.Background(), st, "new-user")
	if err != nil {
		t.Fatalf("GetPlan error: %v", err)
	}
	if plan.Plan != store.PlanFree || plan.Credits != 0 {
		t.Fatalf("plan = %+v", plan)
	}
}

package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func newState(id string, status types.WorkflowStatus, created time.Time) *types.PipelineState {
	return &types.PipelineState{
		WorkflowID:   id,
		Input:        types.WorkflowInput{VideoRef: "video-" + id},
		Status:       status,
		StageResults: map[string]*types.StageResult{},
		CreatedAt:    created,
	}
}

func TestMemoryStore_States(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []*types.PipelineState{
		newState("a", types.WorkflowStatusCompleted, base),
		newState("b", types.WorkflowStatusRunning, base.Add(time.Minute)),
		newState("c", types.WorkflowStatusCompleted, base.Add(2*time.Minute)),
	} {
		if err := s.SaveState(ctx, st); err != nil {
			t.Fatalf("SaveState %d: %v", i, err)
		}
	}

	t.Run("load returns a copy", func(t *testing.T) {
		st, err := s.LoadState(ctx, "a")
		if err != nil {
			t.Fatalf("LoadState: %v", err)
		}
		st.StageResults["x"] = &types.StageResult{}
		again, _ := s.LoadState(ctx, "a")
		if len(again.StageResults) != 0 {
			t.Error("mutating a loaded state leaked into the store")
		}
	})

	t.Run("missing workflow", func(t *testing.T) {
		if _, err := s.LoadState(ctx, "nope"); !errors.Is(err, ErrWorkflowNotFound) {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})

	tests := []struct {
		name string
		opts *ListOptions
		want []string
	}{
		{"all newest first", nil, []string{"c", "b", "a"}},
		{"by status", &ListOptions{Status: types.WorkflowStatusCompleted}, []string{"c", "a"}},
		{"limited", &ListOptions{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListStates(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListStates: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d summaries, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].WorkflowID != id {
					t.Errorf("summary %d = %s, want %s", i, got[i].WorkflowID, id)
				}
			}
		})
	}
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore(&Config{EventMaxLen: 3})
	ctx := context.Background()

	if _, err := s.AppendEvent(ctx, "w1", &types.EventInput{Type: types.EventTypeProgress}); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("append before save: %v", err)
	}
	if err := s.SaveState(ctx, newState("w1", types.WorkflowStatusRunning, time.Now())); err != nil {
		t.Fatal(err)
	}

	ch, cleanup, err := s.Subscribe(ctx, "w1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cleanup()

	for i := 0; i < 4; i++ {
		if _, err := s.AppendEvent(ctx, "w1", &types.EventInput{Type: types.EventTypeProgress, Data: types.ProgressEvent{Completed: i}}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	t.Run("ring buffer keeps newest", func(t *testing.T) {
		all, _ := s.GetEventsSince(ctx, "w1", "")
		if len(all) != 3 || all[0].ID != "2" {
			t.Errorf("events = %d, first = %s", len(all), all[0].ID)
		}
	})

	t.Run("since is exclusive", func(t *testing.T) {
		got, _ := s.GetEventsSince(ctx, "w1", "3")
		if len(got) != 1 || got[0].ID != "4" {
			t.Errorf("got %+v", got)
		}
	})

	if _, err := s.AppendEvent(ctx, "w1", &types.EventInput{Type: types.EventTypeStreamEnd}); err != nil {
		t.Fatal(err)
	}

	t.Run("subscriber receives all then closes", func(t *testing.T) {
		var received []string
		for evt := range ch {
			received = append(received, evt.ID)
		}
		if len(received) != 5 || received[4] != "5" {
			t.Errorf("received %v", received)
		}
	})

	t.Run("closed stream", func(t *testing.T) {
		if _, err := s.AppendEvent(ctx, "w1", &types.EventInput{Type: types.EventTypeProgress}); !errors.Is(err, ErrStreamClosed) {
			t.Errorf("expected ErrStreamClosed, got %v", err)
		}
		late, done, err := s.Subscribe(ctx, "w1")
		if err != nil {
			t.Fatal(err)
		}
		defer done()
		if _, ok := <-late; ok {
			t.Error("late subscriber should get a closed channel")
		}
	})
}

func TestMemoryStore_CleanupIsIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	_ = s.SaveState(ctx, newState("w", types.WorkflowStatusRunning, time.Now()))

	_, cleanup, err := s.Subscribe(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	cleanup()
	cleanup()
	_ = s.Close()
}

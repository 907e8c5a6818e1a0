package cronrunner

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(zap.NewNop(), context.Background())
	if _, err := r.Add("bad", "every day", func(context.Context) {}); err == nil {
		t.Fatalf("expected spec error")
	}
}

func TestJobReceivesBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "streakd")
	r := New(zap.NewNop(), base)
	got := make(chan any, 1)
	id, err := r.Add("probe", "@every 1s", func(ctx context.Context) {
		select {
		case got <- ctx.Value(key{}):
		default:
		}
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if next := r.Next(id); next.IsZero() || next.Before(time.Now().Add(-time.Second)) {
		t.Fatalf("unexpected next run %v", next)
	}
	r.Start()
	defer r.Stop()
	select {
	case v := <-got:
		if v != "streakd" {
			t.Fatalf("job context value = %v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not run")
	}
}

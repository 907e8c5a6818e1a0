package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakePaaS struct {
	mu     sync.Mutex
	logins int
	logs   []logEntry
}

func (f *fakePaaS) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_at": "2099-01-01T00:00:00Z"})
	})
	mux.HandleFunc("/api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var e logEntry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode: %v", err)
		}
		f.mu.Lock()
		f.logs = append(f.logs, e)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func TestNotify_LogsInOnceAndPosts(t *testing.T) {
	f := &fakePaaS{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := New(srv.URL, "key", "", nil)
	c.Notify(context.Background(), "error", "worker degraded", map[string]any{"scope": "BTCUSDT:RSIStrategy:15m"})
	c.Notify(context.Background(), "warn", "evaluation failed", nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logins != 1 {
		t.Fatalf("logins=%d want=1", f.logins)
	}
	if len(f.logs) != 2 {
		t.Fatalf("logs=%d want=2", len(f.logs))
	}
	got := f.logs[0]
	if got.Agent != "streak-automation" || got.Action != "streak_worker_degraded" || got.Level != "error" {
		t.Fatalf("entry=%+v", got)
	}
	if got.Details["scope"] != "BTCUSDT:RSIStrategy:15m" || got.Details["message"] != "worker degraded" {
		t.Fatalf("details=%v", got.Details)
	}
}

func TestNotify_UnreachableIsSilent(t *testing.T) {
	c := New("http://127.0.0.1:1", "key", "", nil)
	c.Notify(context.Background(), "error", "worker degraded", nil)
}

func TestNew_RequiresEndpointAndKey(t *testing.T) {
	if New("", "key", "", nil) != nil {
		t.Fatalf("expected nil client without base url")
	}
	var c *Client
	c.Notify(context.Background(), "info", "noop", nil)
}

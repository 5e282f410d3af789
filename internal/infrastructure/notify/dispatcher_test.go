package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sends []mailJob
	fail  error
}

func (n *recordingNotifier) Send(_ context.Context, email, template string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sends = append(n.sends, mailJob{Email: email, Template: template, Data: data})
	return nil
}

func (n *recordingNotifier) snapshot() []mailJob {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]mailJob, len(n.sends))
	copy(out, n.sends)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestDispatcher_DeliversEnqueuedJobs(t *testing.T) {
	recorder := &recordingNotifier{}
	d := NewDispatcher(4, recorder, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for i := 0; i < 10; i++ {
		d.Enqueue(fmt.Sprintf("user%d@example.com", i), "emailVerification", map[string]any{"n": i})
	}

	waitFor(t, func() bool { return len(recorder.snapshot()) == 10 })
}

func TestDispatcher_SameRecipientKeepsOrder(t *testing.T) {
	recorder := &recordingNotifier{}
	d := NewDispatcher(4, recorder, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for i := 0; i < 5; i++ {
		d.Enqueue("same@example.com", "emailVerification", map[string]any{"seq": i})
	}

	waitFor(t, func() bool { return len(recorder.snapshot()) == 5 })

	// One recipient maps to one worker, so sequence numbers arrive in order.
	for i, job := range recorder.snapshot() {
		if got := job.Data["seq"]; got != i {
			t.Fatalf("out of order: position %d carries seq %v", i, got)
		}
	}
}

func TestDispatcher_FailuresAreDropped(t *testing.T) {
	recorder := &recordingNotifier{fail: errors.New("service down")}
	d := NewDispatcher(2, recorder, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// Enqueue never blocks or panics on delivery failure.
	d.Enqueue("user@example.com", "passwordReset", nil)
	time.Sleep(50 * time.Millisecond)

	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("expected no recorded sends, got %d", got)
	}
}

func TestDispatcher_ShardIsStable(t *testing.T) {
	d := NewDispatcher(8, &recordingNotifier{}, zerolog.Nop())

	first := d.shardIndex("stable@example.com")
	for i := 0; i < 100; i++ {
		if d.shardIndex("stable@example.com") != first {
			t.Fatalf("shard index not deterministic")
		}
	}
}

func TestHTTPNotifier_PostsJSONJob(t *testing.T) {
	var got notificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notifications" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, time.Second)
	err := n.Send(context.Background(), "alice@example.com", "emailVerification", map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got.ID == "" {
		t.Fatalf("job missing id")
	}
	if got.Email != "alice@example.com" || got.Template != "emailVerification" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.Data["name"] != "Alice" {
		t.Fatalf("template data not forwarded: %v", got.Data)
	}
}

func TestHTTPNotifier_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, time.Second)
	if err := n.Send(context.Background(), "alice@example.com", "passwordReset", nil); err == nil {
		t.Fatalf("expected error on 502")
	}
}

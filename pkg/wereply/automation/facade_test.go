package automation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// stubAutomation is a scripted Automation implementation.
type stubAutomation struct {
	chats []automation.ChatSummary
	err   error
	delay time.Duration
	boom  string
}

func (s *stubAutomation) Platform() string { return "stub" }

func (s *stubAutomation) ListRecentChats() ([]automation.ChatSummary, error) {
	if s.boom != "" {
		panic(s.boom)
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.chats, s.err
}

func (s *stubAutomation) StartListening([]automation.ListenTarget) error { return s.err }
func (s *stubAutomation) StopListening() error                           { return s.err }
func (s *stubAutomation) WriteInput(string, string) error                { return s.err }

func (s *stubAutomation) PollLatestMessage() (*automation.IncomingMessage, error) {
	return nil, s.err
}

func TestManagerSuccess(t *testing.T) {
	t.Parallel()

	impl := &stubAutomation{chats: []automation.ChatSummary{{ChatID: "alice", ChatTitle: "Alice"}}}
	m := automation.NewManager(impl, time.Second, nil)

	resp := m.ListRecentChats(context.Background())
	if !resp.OK {
		t.Fatalf("response not OK: %q", resp.Message)
	}
	if resp.TimedOut {
		t.Error("TimedOut set on success")
	}
	if len(resp.Data) != 1 || resp.Data[0].ChatID != "alice" {
		t.Errorf("data = %v, want one chat alice", resp.Data)
	}
}

func TestManagerFailure(t *testing.T) {
	t.Parallel()

	impl := &stubAutomation{err: errors.New("client window not found")}
	m := automation.NewManager(impl, time.Second, nil)

	resp := m.WriteInput(context.Background(), "alice", "hi")
	if resp.OK {
		t.Fatal("response OK for failing implementation")
	}
	if resp.TimedOut {
		t.Error("application failure flagged as timeout")
	}
	if !strings.Contains(resp.Message, "client window not found") {
		t.Errorf("message = %q, want the implementation error", resp.Message)
	}
}

func TestManagerTimeout(t *testing.T) {
	t.Parallel()

	impl := &stubAutomation{delay: 500 * time.Millisecond}
	m := automation.NewManager(impl, 20*time.Millisecond, nil)

	start := time.Now()
	resp := m.ListRecentChats(context.Background())
	if resp.OK {
		t.Fatal("response OK for a call that outlived the deadline")
	}
	if !resp.TimedOut {
		t.Error("TimedOut not set")
	}
	// The caller gets its answer at the deadline, not when the abandoned
	// goroutine eventually finishes.
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("response took %v, want roughly the manager timeout", elapsed)
	}
}

func TestManagerPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	impl := &stubAutomation{boom: "use after release"}
	m := automation.NewManager(impl, time.Second, nil)

	resp := m.ListRecentChats(context.Background())
	if resp.OK {
		t.Fatal("response OK for panicking implementation")
	}
	if resp.TimedOut {
		t.Error("panic flagged as timeout")
	}
	if !strings.Contains(resp.Message, "use after release") {
		t.Errorf("message = %q, want the panic value", resp.Message)
	}
}

func TestManagerContextCancellation(t *testing.T) {
	t.Parallel()

	impl := &stubAutomation{delay: 500 * time.Millisecond}
	m := automation.NewManager(impl, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := m.ListRecentChats(ctx)
	if resp.OK {
		t.Fatal("response OK for cancelled context")
	}
	if !resp.TimedOut {
		t.Error("cancelled call not reported as abandoned")
	}
}

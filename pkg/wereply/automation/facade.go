package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Automation is the uniform contract the application layer consumes. One
// implementation is selected at startup (accessibility tree, agent bridge,
// or the database reader) and never switched at runtime.
type Automation interface {
	Platform() string
	ListRecentChats() ([]ChatSummary, error)
	StartListening(targets []ListenTarget) error
	StopListening() error
	WriteInput(chatID, text string) error
	PollLatestMessage() (*IncomingMessage, error)
}

// Response is the uniform envelope the facade returns: success with data,
// an application failure message, or an infrastructure timeout.
type Response[T any] struct {
	OK       bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Data     T      `json:"data,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func ok[T any](data T) Response[T] {
	return Response[T]{OK: true, Data: data}
}

func fail[T any](err error) Response[T] {
	return Response[T]{OK: false, Message: err.Error(), TimedOut: errors.Is(err, ErrTimeout)}
}

// Manager fronts an Automation implementation: every call is dispatched
// onto its own goroutine so the caller's (event-driven) goroutine never
// blocks on an OS call, and every call is bounded by a timeout. A timed-out
// call is abandoned, not cancelled — the dispatched goroutine drains into a
// buffered channel and exits on its own, so abandoning is always safe.
type Manager struct {
	impl    Automation
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager wraps impl. timeout bounds each operation; zero means a
// generous default.
func NewManager(impl Automation, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{impl: impl, timeout: timeout, logger: logger}
}

// Platform reports the selected implementation.
func (m *Manager) Platform() string { return m.impl.Platform() }

// Close releases whatever the implementation holds open: cached decrypted
// database copies, the agent helper's stream. Implementations without an
// io.Closer have nothing to release.
func (m *Manager) Close() error {
	if c, ok := m.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) ListRecentChats(ctx context.Context) Response[[]ChatSummary] {
	return dispatch(ctx, m, "list_recent_chats", m.impl.ListRecentChats)
}

func (m *Manager) StartListening(ctx context.Context, targets []ListenTarget) Response[struct{}] {
	return dispatch(ctx, m, "start_listening", func() (struct{}, error) {
		return struct{}{}, m.impl.StartListening(targets)
	})
}

func (m *Manager) StopListening(ctx context.Context) Response[struct{}] {
	return dispatch(ctx, m, "stop_listening", func() (struct{}, error) {
		return struct{}{}, m.impl.StopListening()
	})
}

func (m *Manager) WriteInput(ctx context.Context, chatID, text string) Response[struct{}] {
	return dispatch(ctx, m, "write_input", func() (struct{}, error) {
		return struct{}{}, m.impl.WriteInput(chatID, text)
	})
}

func (m *Manager) PollLatestMessage(ctx context.Context) Response[*IncomingMessage] {
	return dispatch(ctx, m, "poll_latest_message", m.impl.PollLatestMessage)
}

type outcome[T any] struct {
	data T
	err  error
}

// dispatch runs fn on a fresh goroutine and waits up to the manager
// timeout (or ctx cancellation). Panics inside fn become ordinary failure
// responses: no internal fault escapes the facade uncaught.
func dispatch[T any](ctx context.Context, m *Manager, name string, fn func() (T, error)) Response[T] {
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome[T]{zero, fmt.Errorf("%s panicked: %v", name, r)}
			}
		}()
		data, err := fn()
		done <- outcome[T]{data, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			m.logger.Warn("automation call failed", "op", name, "error", out.err)
			return fail[T](out.err)
		}
		return ok(out.data)
	case <-time.After(m.timeout):
		m.logger.Warn("automation call abandoned", "op", name, "timeout", m.timeout)
		return fail[T](fmt.Errorf("%s after %s: %w", name, m.timeout, ErrTimeout))
	case <-ctx.Done():
		return fail[T](fmt.Errorf("%s: %v: %w", name, ctx.Err(), ErrTimeout))
	}
}

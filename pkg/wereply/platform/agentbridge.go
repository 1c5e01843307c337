package platform

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// protocolVersion is the agent wire protocol version carried in every
// envelope.
const protocolVersion = "1.0"

// ackTimeout bounds the wait for the agent to acknowledge a command.
const ackTimeout = 5 * time.Second

// resultTimeout bounds the wait for an input.result after the write
// command was acknowledged: the agent still has to drive the real UI.
const resultTimeout = 15 * time.Second

// envelope is one line of the agent protocol, both directions.
type envelope struct {
	Version   string          `json:"version"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type ackPayload struct {
	AckID string `json:"ack_id"`
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type incomingPayload struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id"`
}

type inputResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// AgentBridge drives a UI agent helper process over line-delimited JSON
// on stdio. The agent owns the real UI work; the bridge translates the
// automation contract onto the wire protocol and keeps the ack
// bookkeeping honest.
type AgentBridge struct {
	logger *slog.Logger

	writeMu sync.Mutex
	w       io.Writer

	pendingMu sync.Mutex
	pending   map[string]chan ackPayload

	// messages buffers incoming-message events between polls; when the
	// buffer is full the oldest entry is dropped.
	messages chan *automation.IncomingMessage
	results  chan inputResultPayload

	closeOnce sync.Once
	done      chan struct{}
}

// NewAgentBridge wraps an agent connected through r and w and starts
// the read loop. Closing r ends the loop.
func NewAgentBridge(r io.Reader, w io.Writer, logger *slog.Logger) *AgentBridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &AgentBridge{
		logger:   logger,
		w:        w,
		pending:  make(map[string]chan ackPayload),
		messages: make(chan *automation.IncomingMessage, 256),
		results:  make(chan inputResultPayload, 8),
		done:     make(chan struct{}),
	}
	go b.readLoop(r)
	return b
}

// SpawnAgent starts the agent helper process and bridges its stdio.
func SpawnAgent(bin string, args []string, logger *slog.Logger) (*AgentBridge, *exec.Cmd, error) {
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start agent: %w", err)
	}
	return NewAgentBridge(stdout, stdin, logger), cmd, nil
}

// Platform names the backend.
func (b *AgentBridge) Platform() string { return "agent" }

// ListRecentChats is not part of the agent protocol; the session list
// comes from the database reader on agent platforms.
func (b *AgentBridge) ListRecentChats() ([]automation.ChatSummary, error) {
	return nil, fmt.Errorf("agent protocol has no chat listing: %w", automation.ErrUnsupported)
}

// StartListening asks the agent to start polling for messages.
func (b *AgentBridge) StartListening(targets []automation.ListenTarget) error {
	names := make([]string, 0, len(targets))
	for _, target := range automation.NormalizeTargets(targets, automation.MaxListenTargets) {
		names = append(names, target.Name)
	}
	return b.sendAcked("listen.start", map[string]any{"targets": names})
}

// StopListening asks the agent to stop polling.
func (b *AgentBridge) StopListening() error {
	return b.sendAcked("listen.stop", map[string]any{})
}

// PollLatestMessage drains one buffered incoming message, if any.
func (b *AgentBridge) PollLatestMessage() (*automation.IncomingMessage, error) {
	select {
	case msg := <-b.messages:
		return msg, nil
	default:
		return nil, nil
	}
}

// WriteInput asks the agent to type text into the given conversation
// and waits for the write result event.
func (b *AgentBridge) WriteInput(chatID, text string) error {
	payload := map[string]any{
		"chat_id":           chatID,
		"text":              text,
		"restore_clipboard": true,
	}
	// A result for an earlier write whose wait timed out may still sit in
	// the channel; it must not satisfy this write.
drain:
	for {
		select {
		case <-b.results:
		default:
			break drain
		}
	}
	if err := b.sendAcked("input.write", payload); err != nil {
		return err
	}
	select {
	case result := <-b.results:
		if !result.OK {
			return fmt.Errorf("agent write failed: %s", result.Error)
		}
		return nil
	case <-time.After(resultTimeout):
		return fmt.Errorf("agent write result: %w", automation.ErrTimeout)
	case <-b.done:
		return fmt.Errorf("agent exited during write")
	}
}

// Close stops handing out events. The agent process itself is owned by
// the caller of SpawnAgent.
func (b *AgentBridge) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// sendAcked sends one command envelope and waits for the agent's ack.
func (b *AgentBridge) sendAcked(msgType string, payload any) error {
	id := uuid.NewString()
	ack := make(chan ackPayload, 1)
	b.pendingMu.Lock()
	b.pending[id] = ack
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	if err := b.send(msgType, id, payload); err != nil {
		return err
	}
	select {
	case got := <-ack:
		if !got.OK {
			return fmt.Errorf("agent rejected %s: %s", msgType, got.Error)
		}
		return nil
	case <-time.After(ackTimeout):
		return fmt.Errorf("agent ack for %s: %w", msgType, automation.ErrTimeout)
	case <-b.done:
		return fmt.Errorf("agent exited before acking %s", msgType)
	}
}

func (b *AgentBridge) send(msgType, id string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	line, err := json.Marshal(envelope{
		Version:   protocolVersion,
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().Unix(),
		Payload:   raw,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write to agent: %w", err)
	}
	return nil
}

// readLoop decodes agent lines until the stream ends. Every agent event
// carrying an id is acked back, since the agent re-sends unacked events.
func (b *AgentBridge) readLoop(r io.Reader) {
	defer b.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			b.logger.Debug("unparseable agent line", "error", err)
			continue
		}
		b.handleEvent(env)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("agent stream error", "error", err)
	}
}

func (b *AgentBridge) handleEvent(env envelope) {
	switch env.Type {
	case "event.ack":
		var ack ackPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return
		}
		b.pendingMu.Lock()
		ch, ok := b.pending[ack.AckID]
		b.pendingMu.Unlock()
		if ok {
			ch <- ack
		}
		return
	case "message.incoming":
		var payload incomingPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			b.logger.Debug("bad incoming message payload", "error", err)
		} else {
			msg := &automation.IncomingMessage{
				ChatID:    payload.ChatID,
				Text:      payload.Text,
				Timestamp: payload.Timestamp,
				MsgID:     payload.MsgID,
			}
			select {
			case b.messages <- msg:
			default:
				// Full buffer: drop the oldest. readLoop is the only
				// producer, so the send cannot block after the drain.
				select {
				case <-b.messages:
				default:
				}
				b.messages <- msg
			}
		}
	case "input.result":
		var payload inputResultPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			select {
			case b.results <- payload:
			default:
			}
		}
	case "agent.ready", "agent.status":
		b.logger.Debug("agent event", "type", env.Type)
	case "agent.error":
		b.logger.Warn("agent reported error", "payload", string(env.Payload))
	}

	if env.ID != "" {
		_ = b.send("event.ack", uuid.NewString(), ackPayload{AckID: env.ID, OK: true})
	}
}

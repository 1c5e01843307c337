package platform

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// scriptedAgent plays the helper-process side of the wire protocol.
type scriptedAgent struct {
	t *testing.T

	writeMu sync.Mutex
	out     io.Writer

	commands chan envelope
	acks     chan ackPayload
}

func newScriptedAgent(t *testing.T, r io.Reader, w io.Writer) *scriptedAgent {
	t.Helper()
	agent := &scriptedAgent{
		t:        t,
		out:      w,
		commands: make(chan envelope, 16),
		acks:     make(chan ackPayload, 16),
	}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			var env envelope
			if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
				continue
			}
			if env.Type == "event.ack" {
				var ack ackPayload
				if err := json.Unmarshal(env.Payload, &ack); err == nil {
					agent.acks <- ack
				}
				continue
			}
			agent.commands <- env
		}
	}()
	return agent
}

func (a *scriptedAgent) send(msgType string, payload any) {
	a.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		a.t.Fatalf("marshal %s payload: %v", msgType, err)
	}
	line, err := json.Marshal(envelope{
		Version:   protocolVersion,
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Payload:   raw,
	})
	if err != nil {
		a.t.Fatalf("marshal %s envelope: %v", msgType, err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.out.Write(append(line, '\n')); err != nil {
		a.t.Errorf("agent write: %v", err)
	}
}

func (a *scriptedAgent) ack(id string, ok bool, reason string) {
	a.send("event.ack", ackPayload{AckID: id, OK: ok, Error: reason})
}

func (a *scriptedAgent) nextCommand() envelope {
	a.t.Helper()
	select {
	case env := <-a.commands:
		return env
	case <-time.After(2 * time.Second):
		a.t.Fatal("timed out waiting for a command from the bridge")
		return envelope{}
	}
}

func newTestBridge(t *testing.T) (*AgentBridge, *scriptedAgent) {
	t.Helper()
	hostReader, agentWriter := io.Pipe()
	agentReader, hostWriter := io.Pipe()
	bridge := NewAgentBridge(hostReader, hostWriter, nil)
	agent := newScriptedAgent(t, agentReader, agentWriter)
	t.Cleanup(func() {
		bridge.Close()
		hostReader.Close()
		agentReader.Close()
	})
	return bridge, agent
}

func TestAgentBridgeStartListening(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	go func() {
		cmd := agent.nextCommand()
		if cmd.Type != "listen.start" {
			t.Errorf("command type = %q, want listen.start", cmd.Type)
		}
		if cmd.Version != protocolVersion {
			t.Errorf("protocol version = %q, want %q", cmd.Version, protocolVersion)
		}
		var payload struct {
			Targets []string `json:"targets"`
		}
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			t.Errorf("decode listen.start payload: %v", err)
		}
		want := []string{"Alice", "Work"}
		if len(payload.Targets) != len(want) || payload.Targets[0] != want[0] || payload.Targets[1] != want[1] {
			t.Errorf("targets = %v, want %v", payload.Targets, want)
		}
		agent.ack(cmd.ID, true, "")
	}()

	targets := []automation.ListenTarget{
		{Name: "  Alice  "},
		{Name: "Alice"}, // duplicate after trimming
		{Name: "Work", Kind: automation.ChatGroup},
	}
	if err := bridge.StartListening(targets); err != nil {
		t.Fatalf("StartListening() error = %v", err)
	}
}

func TestAgentBridgeRejectedCommand(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	go func() {
		cmd := agent.nextCommand()
		agent.ack(cmd.ID, false, "listener busy")
	}()

	err := bridge.StopListening()
	if err == nil {
		t.Fatal("StopListening() error = nil, want rejection")
	}
	if !strings.Contains(err.Error(), "listener busy") {
		t.Fatalf("StopListening() error = %v, want agent reason included", err)
	}
}

func TestAgentBridgeIncomingMessagesAreAcked(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	agent.send("message.incoming", incomingPayload{
		ChatID:    "Alice",
		Text:      "see you at 5",
		Timestamp: 1700000000,
		MsgID:     "m-17",
	})

	var msg *automation.IncomingMessage
	deadline := time.Now().Add(2 * time.Second)
	for msg == nil && time.Now().Before(deadline) {
		got, err := bridge.PollLatestMessage()
		if err != nil {
			t.Fatalf("PollLatestMessage() error = %v", err)
		}
		msg = got
		if msg == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if msg == nil {
		t.Fatal("PollLatestMessage() never surfaced the event")
	}
	if msg.ChatID != "Alice" || msg.Text != "see you at 5" || msg.MsgID != "m-17" {
		t.Fatalf("message = %+v, want Alice/see you at 5/m-17", msg)
	}

	// The bridge must ack delivered events, otherwise the agent re-sends.
	select {
	case ack := <-agent.acks:
		if !ack.OK || ack.AckID == "" {
			t.Fatalf("ack = %+v, want ok with the event id", ack)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never acked the message event")
	}

	if extra, err := bridge.PollLatestMessage(); err != nil || extra != nil {
		t.Fatalf("second poll = (%v, %v), want (nil, nil)", extra, err)
	}
}

func TestAgentBridgeWriteInput(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	go func() {
		cmd := agent.nextCommand()
		if cmd.Type != "input.write" {
			t.Errorf("command type = %q, want input.write", cmd.Type)
		}
		var payload struct {
			ChatID           string `json:"chat_id"`
			Text             string `json:"text"`
			RestoreClipboard bool   `json:"restore_clipboard"`
		}
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			t.Errorf("decode input.write payload: %v", err)
		}
		if payload.ChatID != "Alice" || payload.Text != "on my way" || !payload.RestoreClipboard {
			t.Errorf("payload = %+v, want Alice/on my way/restore", payload)
		}
		agent.ack(cmd.ID, true, "")
		agent.send("input.result", inputResultPayload{OK: true})
	}()

	if err := bridge.WriteInput("Alice", "on my way"); err != nil {
		t.Fatalf("WriteInput() error = %v", err)
	}
}

func TestAgentBridgeWriteInputFailure(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	go func() {
		cmd := agent.nextCommand()
		agent.ack(cmd.ID, true, "")
		agent.send("input.result", inputResultPayload{OK: false, Error: "chat window gone"})
	}()

	err := bridge.WriteInput("Alice", "hello")
	if err == nil {
		t.Fatal("WriteInput() error = nil, want write failure")
	}
	if !strings.Contains(err.Error(), "chat window gone") {
		t.Fatalf("WriteInput() error = %v, want agent failure reason", err)
	}
}

func TestAgentBridgeWriteInputIgnoresStaleResult(t *testing.T) {
	t.Parallel()
	bridge, agent := newTestBridge(t)

	// A failure left over from an abandoned earlier write. Waiting for the
	// bridge's event ack guarantees it is buffered before the next write.
	agent.send("input.result", inputResultPayload{OK: false, Error: "previous write expired"})
	select {
	case <-agent.acks:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never acked the stale result event")
	}

	go func() {
		cmd := agent.nextCommand()
		agent.ack(cmd.ID, true, "")
		agent.send("input.result", inputResultPayload{OK: true})
	}()

	if err := bridge.WriteInput("Alice", "fresh attempt"); err != nil {
		t.Fatalf("WriteInput() error = %v, stale result must not satisfy the write", err)
	}
}

func TestAgentBridgeListChatsUnsupported(t *testing.T) {
	t.Parallel()
	bridge, _ := newTestBridge(t)

	if _, err := bridge.ListRecentChats(); !errors.Is(err, automation.ErrUnsupported) {
		t.Fatalf("ListRecentChats() error = %v, want ErrUnsupported", err)
	}
}

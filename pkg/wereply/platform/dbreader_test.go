package platform_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
	"github.com/wereply/wereply/pkg/wereply/platform"
)

type staticKey []byte

func (k staticKey) EnsureKey(context.Context) ([]byte, error) { return k, nil }

func seedDB(t *testing.T, path, schema string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
}

func newDBAutomation(t *testing.T) (*platform.DBAutomation, keyrecovery.Layout) {
	t.Helper()
	dir := t.TempDir()
	layout := keyrecovery.Layout{
		SessionDB:  filepath.Join(dir, "session.db"),
		MessageDBs: []string{filepath.Join(dir, "message_0.db")},
	}
	seedDB(t, layout.SessionDB, `
		CREATE TABLE session (chat_id TEXT, chat_title TEXT);
		INSERT INTO session (chat_id, chat_title) VALUES ('Alice', 'Alice'), ('Bob', 'Bob');
	`)
	seedDB(t, layout.MessageDBs[0], `
		CREATE TABLE message (chat_id TEXT, content TEXT, create_time INTEGER, msg_id INTEGER);
	`)
	reader := keyrecovery.NewReader(layout, staticKey(nil), nil)
	return platform.NewDBAutomation(reader, nil), layout
}

func appendMessage(t *testing.T, path, chatID, text string, ts, id int) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("reopen fixture: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(
		`INSERT INTO message (chat_id, content, create_time, msg_id) VALUES (?, ?, ?, ?)`,
		chatID, text, ts, id,
	); err != nil {
		t.Fatalf("insert message: %v", err)
	}
}

func TestDBAutomationListsChats(t *testing.T) {
	t.Parallel()
	db, _ := newDBAutomation(t)

	if got := db.Platform(); got != "db" {
		t.Errorf("Platform() = %q, want db", got)
	}
	chats, err := db.ListRecentChats()
	if err != nil {
		t.Fatalf("ListRecentChats() error: %v", err)
	}
	if len(chats) != 2 || chats[0].ChatID != "Bob" || chats[1].ChatID != "Alice" {
		t.Errorf("chats = %v, want Bob then Alice (newest first)", chats)
	}
}

func TestDBAutomationTargetFiltering(t *testing.T) {
	t.Parallel()
	db, layout := newDBAutomation(t)

	if err := db.StartListening([]automation.ListenTarget{{Name: "Alice"}}); err != nil {
		t.Fatalf("StartListening() error: %v", err)
	}

	// A message in an unwatched chat is consumed silently: the cursor
	// advances but nothing surfaces.
	appendMessage(t, layout.MessageDBs[0], "Bob", "ignore me", 10, 1)
	if msg, err := db.PollLatestMessage(); err != nil || msg != nil {
		t.Fatalf("poll of unwatched chat = (%+v, %v), want (nil, nil)", msg, err)
	}

	appendMessage(t, layout.MessageDBs[0], "Alice", "hello there", 20, 2)
	msg, err := db.PollLatestMessage()
	if err != nil {
		t.Fatalf("PollLatestMessage() error: %v", err)
	}
	if msg == nil || msg.ChatID != "Alice" || msg.Text != "hello there" {
		t.Fatalf("message = %+v, want Alice's message", msg)
	}

	// The skipped Bob message must not resurface once the cursor passed it.
	if again, _ := db.PollLatestMessage(); again != nil {
		t.Fatalf("second poll = %+v, want nil", again)
	}
}

func TestDBAutomationStopClearsTargets(t *testing.T) {
	t.Parallel()
	db, layout := newDBAutomation(t)

	if err := db.StartListening([]automation.ListenTarget{{Name: "Alice"}}); err != nil {
		t.Fatalf("StartListening() error: %v", err)
	}
	if err := db.StopListening(); err != nil {
		t.Fatalf("StopListening() error: %v", err)
	}

	// Without targets every chat is watched again.
	appendMessage(t, layout.MessageDBs[0], "Bob", "back in scope", 10, 1)
	msg, err := db.PollLatestMessage()
	if err != nil {
		t.Fatalf("PollLatestMessage() error: %v", err)
	}
	if msg == nil || msg.ChatID != "Bob" {
		t.Fatalf("message = %+v, want Bob's message after stop", msg)
	}
}

func TestDBAutomationWriteInputUnsupported(t *testing.T) {
	t.Parallel()
	db, _ := newDBAutomation(t)

	if err := db.WriteInput("Alice", "hi"); !errors.Is(err, automation.ErrUnsupported) {
		t.Fatalf("WriteInput() error = %v, want ErrUnsupported", err)
	}
}

type noKey struct{}

func (noKey) EnsureKey(context.Context) ([]byte, error) {
	return nil, keyrecovery.ErrKeyUnavailable
}

func TestDBAutomationReportsDecryptFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	layout := keyrecovery.Layout{
		SessionDB:  filepath.Join(dir, "session.db"),
		MessageDBs: []string{filepath.Join(dir, "message_0.db")},
	}
	// Not a plaintext SQLite header, so the reader must go through key
	// recovery, which fails here.
	if err := os.WriteFile(layout.SessionDB, bytes.Repeat([]byte{0x5a}, 4096), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	db := platform.NewDBAutomation(keyrecovery.NewReader(layout, noKey{}, nil), nil)

	_, err := db.ListRecentChats()
	if !errors.Is(err, automation.ErrDecryptFailed) {
		t.Fatalf("ListRecentChats() error = %v, want ErrDecryptFailed", err)
	}
}

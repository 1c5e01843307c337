package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
)

// dbOpTimeout bounds one database read, decryption included.
const dbOpTimeout = 30 * time.Second

// DBAutomation serves the automation contract straight from the client's
// databases. It can list chats and poll messages but cannot write: the
// database is an archive, not an input surface.
type DBAutomation struct {
	reader *keyrecovery.Reader
	logger *slog.Logger

	mu      sync.Mutex
	targets []automation.ListenTarget
}

// NewDBAutomation builds the database-backed implementation.
func NewDBAutomation(reader *keyrecovery.Reader, logger *slog.Logger) *DBAutomation {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DBAutomation{reader: reader, logger: logger}
}

// Platform names the backend.
func (d *DBAutomation) Platform() string { return "db" }

// Close drops the reader's cached decrypted copies.
func (d *DBAutomation) Close() error { return d.reader.Close() }

// ListRecentChats reads the conversation list from the session database.
func (d *DBAutomation) ListRecentChats() ([]automation.ChatSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	chats, err := d.reader.ListRecentChats(ctx)
	return chats, mapKeyError(err)
}

// mapKeyError folds key-recovery failures into the shared taxonomy so
// callers can tell a decryption problem from an empty result.
func mapKeyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, keyrecovery.ErrKeyUnavailable) || errors.Is(err, keyrecovery.ErrKeyRejected) {
		return fmt.Errorf("%v: %w", err, automation.ErrDecryptFailed)
	}
	return err
}

// StartListening records the target set. The database needs no watcher:
// polling reads whatever arrived since the cursor.
func (d *DBAutomation) StartListening(targets []automation.ListenTarget) error {
	d.mu.Lock()
	d.targets = automation.NormalizeTargets(targets, automation.MaxListenTargets)
	d.mu.Unlock()
	return nil
}

// StopListening clears the target set.
func (d *DBAutomation) StopListening() error {
	d.mu.Lock()
	d.targets = nil
	d.mu.Unlock()
	return nil
}

// PollLatestMessage returns the newest unseen message. With a non-empty
// target set, messages from other conversations are skipped but still
// advance the cursor.
func (d *DBAutomation) PollLatestMessage() (*automation.IncomingMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	msg, err := d.reader.PollLatestMessage(ctx)
	if err != nil || msg == nil {
		return nil, mapKeyError(err)
	}
	if !d.wantsChat(msg.ChatID) {
		d.logger.Debug("message outside listen targets", "chat", msg.ChatID)
		return nil, nil
	}
	return msg, nil
}

// WriteInput is unsupported on the database backend.
func (d *DBAutomation) WriteInput(chatID, text string) error {
	return fmt.Errorf("database backend cannot write input: %w", automation.ErrUnsupported)
}

func (d *DBAutomation) wantsChat(chatID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.targets) == 0 {
		return true
	}
	for _, target := range d.targets {
		if target.Name == chatID {
			return true
		}
	}
	return false
}

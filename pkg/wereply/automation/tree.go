package automation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// Backend is a platform accessibility backend: it hands out the client's
// front window and the input synthesis primitives. Keyboard and Clipboard
// may return nil when the platform lacks them; the affected tiers are
// skipped.
type Backend interface {
	// FrontWindow returns a retained handle to the client's main window,
	// or an error wrapping ErrNotFound when the client is not running.
	FrontWindow() (uitree.Element, error)
	Keyboard() uitree.Keyboard
	Clipboard() uitree.Clipboard
	// Chords returns the platform key chords for synthetic input.
	Chords() KeyChords
}

// TreeConfig tunes the tree-driven automation.
type TreeConfig struct {
	Scan        uitree.ScanConfig `yaml:"scan"`
	SessionScan SessionScanConfig `yaml:"session_scan"`
	// AllowDynamicScan permits full-tree scans when the static and
	// persisted paths all fail to resolve.
	AllowDynamicScan bool `yaml:"allow_dynamic_scan"`
	// InputSearchDepth bounds the dynamic input-control search.
	InputSearchDepth int `yaml:"input_search_depth"`
}

// DefaultTreeConfig returns the observed working constants.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		Scan:             uitree.DefaultScanConfig(),
		SessionScan:      DefaultSessionScanConfig(),
		AllowDynamicScan: true,
		InputSearchDepth: 8,
	}
}

// TreeAutomation implements the Automation contract by driving the client
// through its accessibility tree. All methods are synchronous and OS-call
// heavy; the Manager dispatches them off the caller's goroutine.
type TreeAutomation struct {
	backend  Backend
	paths    PathSet
	cfg      TreeConfig
	writer   *InputWriter
	scanner  *SessionListScanner
	recorder PathRecorder
	logger   *slog.Logger

	// watcherMu guards the single mutable watcher handle shared by
	// start/stop/poll. poisoned flips when a panic escapes a critical
	// section; from then on watcher operations fail with
	// ErrLockAbandoned while the rest of the engine keeps working.
	watcherMu sync.Mutex
	watcher   *MessageWatcher
	poisoned  bool
	targets   []ListenTarget
	lastKey   string
}

// NewTreeAutomation wires a backend into the engine. A nil logger
// disables logging.
func NewTreeAutomation(backend Backend, paths PathSet, cfg TreeConfig, logger *slog.Logger) *TreeAutomation {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TreeAutomation{
		backend: backend,
		paths:   paths,
		cfg:     cfg,
		writer:  NewInputWriter(backend.Keyboard(), backend.Clipboard(), backend.Chords(), logger),
		scanner: NewSessionListScanner(cfg.SessionScan, logger),
		logger:  logger,
	}
}

// SetPathRecorder installs the sink for paths learned by dynamic scans.
// Call before the engine is in use; a nil recorder disables learning.
func (t *TreeAutomation) SetPathRecorder(r PathRecorder) { t.recorder = r }

// Platform names the backend; informational only.
func (t *TreeAutomation) Platform() string { return "tree" }

// ListRecentChats locates the session list and runs the paginated scan.
func (t *TreeAutomation) ListRecentChats() ([]ChatSummary, error) {
	window, err := t.backend.FrontWindow()
	if err != nil {
		return nil, err
	}
	defer window.Release()
	list, err := t.locateSessionList(window)
	if err != nil {
		return nil, err
	}
	defer list.Release()
	return t.scanner.Collect(list)
}

// StartListening locates the message list and installs the watcher.
// Failure to locate the list is a hard error; a failed event subscription
// is not — the watcher then reports polling mode.
func (t *TreeAutomation) StartListening(targets []ListenTarget) error {
	window, err := t.backend.FrontWindow()
	if err != nil {
		return err
	}
	list, err := t.locateMessageList(window)
	if err != nil {
		window.Release()
		return err
	}
	watcher := NewMessageWatcher(window, list, t.cfg.Scan.RowTextDepth, t.logger)
	mode := watcher.Start()
	t.logger.Info("message watcher started", "mode", mode.String())

	return t.withWatcherLock(func() error {
		if t.watcher != nil {
			t.watcher.Stop()
		}
		t.watcher = watcher
		t.targets = NormalizeTargets(targets, MaxListenTargets)
		t.lastKey = ""
		return nil
	})
}

// StopListening tears down the active watcher, if any.
func (t *TreeAutomation) StopListening() error {
	return t.withWatcherLock(func() error {
		if t.watcher != nil {
			t.watcher.Stop()
			t.watcher = nil
		}
		return nil
	})
}

// PollLatestMessage returns the newest unseen message, or nil when
// nothing changed since the last poll. Returns nil when no watcher is
// active — callers start listening first.
func (t *TreeAutomation) PollLatestMessage() (*IncomingMessage, error) {
	var msg *IncomingMessage
	err := t.withWatcherLock(func() error {
		if t.watcher == nil {
			return nil
		}
		if !t.watcher.Dirty() {
			return nil
		}
		text, ok := t.watcher.LatestMessage()
		if !ok {
			return nil
		}
		if text == t.lastKey {
			return nil
		}
		t.lastKey = text
		chatID := "unknown-chat"
		if title, ok := t.watcher.Window().Title(); ok && title != "" {
			chatID = title
		}
		msg = &IncomingMessage{
			ChatID:    chatID,
			Text:      text,
			Timestamp: time.Now().Unix(),
		}
		return nil
	})
	return msg, err
}

// WriteInput locates the input control and injects text through the
// tiered writer. chatID is advisory: the text goes to the focused
// conversation, which the caller selected beforehand.
func (t *TreeAutomation) WriteInput(chatID, text string) error {
	window, err := t.backend.FrontWindow()
	if err != nil {
		return err
	}
	defer window.Release()
	input, err := t.locateInput(window)
	if err != nil {
		return err
	}
	defer input.Release()
	tier, err := t.writer.Write(input, text)
	if err != nil {
		return err
	}
	t.logger.Debug("input written", "chat", chatID, "tier", tier.String())
	return nil
}

func (t *TreeAutomation) locateSessionList(window uitree.Element) (uitree.Element, error) {
	if el, ok := uitree.ResolveFirst(window, t.paths.SessionList); ok {
		return el, nil
	}
	if t.cfg.AllowDynamicScan {
		frame, _ := window.Frame()
		if pane, ok := uitree.FindPane(window, frame, uitree.ListPane, t.cfg.Scan); ok {
			t.recordLearned(LearnSessionList, pane.Path, window)
			return pane.Element, nil
		}
	}
	return nil, fmt.Errorf("session list: %w", ErrNotFound)
}

func (t *TreeAutomation) locateMessageList(window uitree.Element) (uitree.Element, error) {
	if el, ok := uitree.ResolveFirst(window, t.paths.MessageList); ok {
		return el, nil
	}
	if t.cfg.AllowDynamicScan {
		frame, _ := window.Frame()
		if pane, ok := uitree.FindPane(window, frame, uitree.ContentPane, t.cfg.Scan); ok {
			t.recordLearned(LearnMessageList, pane.Path, window)
			return pane.Element, nil
		}
	}
	return nil, fmt.Errorf("message list: %w", ErrNotFound)
}

func (t *TreeAutomation) locateInput(window uitree.Element) (uitree.Element, error) {
	if el, ok := uitree.ResolveFirst(window, t.paths.Input); ok {
		return el, nil
	}
	if t.cfg.AllowDynamicScan {
		frame, _ := window.Frame()
		if el, path, ok := uitree.FindInput(window, frame, t.cfg.InputSearchDepth); ok {
			t.recordLearned(LearnInput, path, window)
			return el, nil
		}
	}
	return nil, fmt.Errorf("input box: %w", ErrNotFound)
}

// recordLearned hands a dynamically scanned path to the recorder, together
// with a window snapshot. An empty path is not recordable: the control sits
// below a roleless node.
func (t *TreeAutomation) recordLearned(control LearnedControl, path uitree.Spec, window uitree.Element) {
	if t.recorder == nil || len(path) == 0 {
		return
	}
	treeJSON, err := json.Marshal(uitree.Snapshot(window, t.cfg.Scan.MaxDepth))
	if err != nil {
		treeJSON = nil
	}
	t.recorder.RecordLearnedPath(control, path, treeJSON)
	t.logger.Info("learned control path", "control", string(control), "steps", len(path))
}

// withWatcherLock runs fn under the watcher lock. A panic inside fn
// poisons the watcher handle: later watcher operations fail with
// ErrLockAbandoned instead of observing half-updated state.
func (t *TreeAutomation) withWatcherLock(fn func() error) (err error) {
	t.watcherMu.Lock()
	defer t.watcherMu.Unlock()
	if t.poisoned {
		return ErrLockAbandoned
	}
	defer func() {
		if r := recover(); r != nil {
			t.poisoned = true
			t.watcher = nil
			err = fmt.Errorf("panic in watcher section: %v: %w", r, ErrLockAbandoned)
		}
	}()
	return fn()
}

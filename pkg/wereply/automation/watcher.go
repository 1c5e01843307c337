package automation

import (
	"log/slog"
	"sync/atomic"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// WatchMode is how a running watcher learns about new messages.
type WatchMode int

const (
	// WatchEvent means a native change-notification subscription is active.
	WatchEvent WatchMode = iota
	// WatchPolling means the caller re-scans on its own schedule.
	WatchPolling
)

func (m WatchMode) String() string {
	if m == WatchEvent {
		return "event"
	}
	return "polling"
}

// MessageWatcher observes the message transcript of the active
// conversation. It retains the window handle as a conversation-id fallback:
// the window title is the only identifier some layouts expose.
type MessageWatcher struct {
	window uitree.Element
	list   uitree.Element

	rowTextDepth int
	mode         WatchMode
	dirty        atomic.Bool
	cancel       func()
	logger       *slog.Logger
}

// NewMessageWatcher wraps an already-located message list. Locating the
// list is the caller's job (static paths, then dynamic scan); failure to
// locate it is a hard error there, not here.
func NewMessageWatcher(window, list uitree.Element, rowTextDepth int, logger *slog.Logger) *MessageWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MessageWatcher{
		window:       window,
		list:         list,
		rowTextDepth: rowTextDepth,
		logger:       logger,
	}
}

// Start attempts a native change subscription and falls back to polling.
// Both outcomes are valid; a subscription failure is logged and absorbed,
// never propagated.
func (w *MessageWatcher) Start() WatchMode {
	notifier, ok := w.list.(uitree.Notifier)
	if !ok {
		w.mode = WatchPolling
		return w.mode
	}
	cancel, err := notifier.SubscribeChanged(func() { w.dirty.Store(true) })
	if err != nil {
		w.logger.Debug("change subscription unavailable, polling instead", "error", err)
		w.mode = WatchPolling
		return w.mode
	}
	w.cancel = cancel
	w.mode = WatchEvent
	return w.mode
}

// Mode reports the terminal mode chosen by Start.
func (w *MessageWatcher) Mode() WatchMode { return w.mode }

// Dirty reports and clears the pending-change flag set by the event
// subscription. Always true in polling mode: without events every poll
// must look.
func (w *MessageWatcher) Dirty() bool {
	if w.mode == WatchPolling {
		return true
	}
	return w.dirty.Swap(false)
}

// LatestMessage re-scans the visible rows and returns the content of the
// structurally last non-empty row. List order is authoritative: timestamp
// exposure is too inconsistent across layouts to sort by.
func (w *MessageWatcher) LatestMessage() (string, bool) {
	children := w.list.Children()
	defer uitree.ReleaseAll(children)
	for i := len(children) - 1; i >= 0; i-- {
		fragments := uitree.TextFragments(children[i], w.rowTextDepth)
		if text := uitree.RowContent(fragments); text != "" {
			return text, true
		}
	}
	return "", false
}

// Window returns the retained window handle.
func (w *MessageWatcher) Window() uitree.Element { return w.window }

// Stop cancels the subscription, if any, and releases the retained
// handles. The watcher must not be used afterwards.
func (w *MessageWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.list.Release()
	w.window.Release()
}

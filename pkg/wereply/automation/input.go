package automation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// InputTier identifies which injection strategy ultimately wrote the text.
type InputTier int

const (
	// TierValue is a direct value assignment on the input control.
	TierValue InputTier = iota
	// TierKeystroke is synthetic select-all + delete + type-text.
	TierKeystroke
	// TierClipboard is clipboard injection with paste and best-effort
	// restore of the previous clipboard content.
	TierClipboard
)

func (t InputTier) String() string {
	switch t {
	case TierValue:
		return "value"
	case TierKeystroke:
		return "keystroke"
	default:
		return "clipboard"
	}
}

// KeyChords are the synthetic chords an InputWriter sends. They differ per
// platform backend (cmd on macOS, ctrl elsewhere).
type KeyChords struct {
	SelectAll string
	Delete    string
	Paste     string
}

// InputWriter injects text into an input control, attempting tiers in
// order until one succeeds. Each tier runs only when the previous one is
// unavailable on this backend or failed.
type InputWriter struct {
	keyboard  uitree.Keyboard
	clipboard uitree.Clipboard
	chords    KeyChords
	logger    *slog.Logger
}

// NewInputWriter builds a writer. keyboard and clipboard may be nil when
// the backend lacks them; the corresponding tiers are then skipped.
func NewInputWriter(keyboard uitree.Keyboard, clipboard uitree.Clipboard, chords KeyChords, logger *slog.Logger) *InputWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InputWriter{keyboard: keyboard, clipboard: clipboard, chords: chords, logger: logger}
}

// Write puts text into input and reports which tier succeeded.
func (w *InputWriter) Write(input uitree.Element, text string) (InputTier, error) {
	errValue := input.SetValue(text)
	if errValue == nil {
		return TierValue, nil
	}
	w.logger.Debug("direct value write failed", "error", errValue)

	errKeys := w.writeKeystrokes(input, text)
	if errKeys == nil {
		return TierKeystroke, nil
	}

	errClip := w.writeClipboard(input, text)
	if errClip == nil {
		return TierClipboard, nil
	}
	return 0, fmt.Errorf("all input tiers failed: value: %v; keystroke: %v; clipboard: %w",
		errValue, errKeys, errClip)
}

func (w *InputWriter) writeKeystrokes(input uitree.Element, text string) error {
	if w.keyboard == nil {
		return fmt.Errorf("no keyboard on this backend: %w", ErrUnsupported)
	}
	if err := input.Focus(); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	if err := w.keyboard.SendKeys(w.chords.SelectAll); err != nil {
		return fmt.Errorf("select all: %w", err)
	}
	if err := w.keyboard.SendKeys(w.chords.Delete); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := w.keyboard.SendText(text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

func (w *InputWriter) writeClipboard(input uitree.Element, text string) error {
	if w.clipboard == nil || w.keyboard == nil {
		return fmt.Errorf("no clipboard on this backend: %w", ErrUnsupported)
	}
	original, restoreErr := w.clipboard.GetText()
	if err := w.clipboard.SetText(text); err != nil {
		return fmt.Errorf("stage clipboard: %w", err)
	}
	// Focus failures are tolerated here: some layouts keep focus on the
	// input box, and the paste still lands.
	if err := input.Focus(); err != nil && !errors.Is(err, ErrUnsupported) {
		w.logger.Debug("focus before paste failed", "error", err)
	}
	if err := w.keyboard.SendKeys(w.chords.Paste); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	// Restore is best effort: a failed restore never invalidates a write
	// that already landed.
	if restoreErr == nil {
		if err := w.clipboard.SetText(original); err != nil {
			w.logger.Debug("clipboard restore failed", "error", err)
		}
	}
	return nil
}

package automation_test

import (
	"errors"
	"testing"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/uitree"
	"github.com/wereply/wereply/pkg/wereply/uitree/uitreetest"
)

var testChords = automation.KeyChords{SelectAll: "cmd+a", Delete: "backspace", Paste: "cmd+v"}

func TestWriteDirectValueTier(t *testing.T) {
	t.Parallel()

	input := uitreetest.New("AXTextArea", "")
	kb := &uitreetest.Keyboard{}
	clip := &uitreetest.Clipboard{}
	w := automation.NewInputWriter(kb, clip, testChords, nil)

	tier, err := w.Write(input, "hello")
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if tier != automation.TierValue {
		t.Errorf("Write() tier = %v, want value", tier)
	}
	if input.ValueV != "hello" {
		t.Errorf("input value = %q, want %q", input.ValueV, "hello")
	}
	if len(kb.Keys) != 0 || len(clip.History) != 0 {
		t.Error("later tiers ran although the first succeeded")
	}
}

func TestWriteKeystrokeTier(t *testing.T) {
	t.Parallel()

	input := uitreetest.New("AXTextArea", "")
	input.SetValueErr = uitree.ErrUnsupported
	kb := &uitreetest.Keyboard{}
	w := automation.NewInputWriter(kb, &uitreetest.Clipboard{}, testChords, nil)

	tier, err := w.Write(input, "hello")
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if tier != automation.TierKeystroke {
		t.Errorf("Write() tier = %v, want keystroke", tier)
	}
	if input.FocusCalls == 0 {
		t.Error("keystroke tier did not focus the input")
	}
	wantKeys := []string{"cmd+a", "backspace"}
	if len(kb.Keys) != len(wantKeys) || kb.Keys[0] != wantKeys[0] || kb.Keys[1] != wantKeys[1] {
		t.Errorf("keys = %v, want %v", kb.Keys, wantKeys)
	}
	if len(kb.Texts) != 1 || kb.Texts[0] != "hello" {
		t.Errorf("typed texts = %v, want [hello]", kb.Texts)
	}
}

func TestWriteClipboardTierWithRestore(t *testing.T) {
	t.Parallel()

	input := uitreetest.New("AXTextArea", "")
	input.SetValueErr = uitree.ErrUnsupported
	// SendText fails so the keystroke tier cannot complete, but SendKeys
	// still works: the paste chord stays available.
	kb := &uitreetest.Keyboard{TextErr: errors.New("IME rejected synthetic text")}
	clip := &uitreetest.Clipboard{Content: "previous contents"}
	w := automation.NewInputWriter(kb, clip, testChords, nil)

	tier, err := w.Write(input, "hello")
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if tier != automation.TierClipboard {
		t.Errorf("Write() tier = %v, want clipboard", tier)
	}
	pasted := false
	for _, key := range kb.Keys {
		if key == "cmd+v" {
			pasted = true
		}
	}
	if !pasted {
		t.Errorf("keys = %v, want a paste chord", kb.Keys)
	}
	// Staged text first, original restored afterwards.
	if len(clip.History) != 2 || clip.History[0] != "hello" || clip.History[1] != "previous contents" {
		t.Errorf("clipboard history = %v, want [hello, previous contents]", clip.History)
	}
	if clip.Content != "previous contents" {
		t.Errorf("clipboard content = %q, want restore", clip.Content)
	}
}

func TestWriteClipboardRestoreFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	input := uitreetest.New("AXTextArea", "")
	input.SetValueErr = uitree.ErrUnsupported
	kb := &uitreetest.Keyboard{TextErr: errors.New("no text synthesis")}
	clip := &restoreFailClipboard{}
	w := automation.NewInputWriter(kb, clip, testChords, nil)

	tier, err := w.Write(input, "hello")
	if err != nil {
		t.Fatalf("Write() error: %v, restore failure must not invalidate the write", err)
	}
	if tier != automation.TierClipboard {
		t.Errorf("Write() tier = %v, want clipboard", tier)
	}
}

// restoreFailClipboard accepts the first SetText (staging) and fails the
// second (restore).
type restoreFailClipboard struct{ sets int }

func (c *restoreFailClipboard) GetText() (string, error) { return "old", nil }

func (c *restoreFailClipboard) SetText(string) error {
	c.sets++
	if c.sets > 1 {
		return errors.New("clipboard busy")
	}
	return nil
}

func TestWriteAllTiersFail(t *testing.T) {
	t.Parallel()

	input := uitreetest.New("AXTextArea", "")
	input.SetValueErr = uitree.ErrUnsupported
	w := automation.NewInputWriter(nil, nil, testChords, nil)

	if _, err := w.Write(input, "hello"); err == nil {
		t.Fatal("Write() succeeded with every tier unavailable")
	}
}

package uitree

import "github.com/atotto/clipboard"

// SystemClipboard adapts the OS clipboard to the Clipboard interface.
type SystemClipboard struct{}

func (SystemClipboard) GetText() (string, error) { return clipboard.ReadAll() }

func (SystemClipboard) SetText(text string) error { return clipboard.WriteAll(text) }

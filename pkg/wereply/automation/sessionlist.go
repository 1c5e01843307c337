package automation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// SessionScanConfig bounds the paginated session-list scan.
type SessionScanConfig struct {
	// MaxRounds caps snapshot+scroll iterations.
	MaxRounds int `yaml:"max_rounds"`
	// StagnationLimit stops the scan after this many consecutive rounds
	// that surfaced no unseen title.
	StagnationLimit int `yaml:"stagnation_limit"`
	// SettleDelay is the wait after a scroll before the next snapshot,
	// giving the client time to render the new rows.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// RowTextDepth bounds text collection inside one row.
	RowTextDepth int `yaml:"row_text_depth"`
}

// DefaultSessionScanConfig returns the observed working constants.
func DefaultSessionScanConfig() SessionScanConfig {
	return SessionScanConfig{
		MaxRounds:       64,
		StagnationLimit: 2,
		SettleDelay:     120 * time.Millisecond,
		RowTextDepth:    4,
	}
}

// SessionListScanner enumerates the conversation list by repeatedly
// snapshotting the visible rows and scrolling. It is purely synchronous
// and OS-call heavy; run it off any latency-sensitive goroutine.
type SessionListScanner struct {
	cfg    SessionScanConfig
	logger *slog.Logger
}

// NewSessionListScanner builds a scanner. A nil logger disables logging.
func NewSessionListScanner(cfg SessionScanConfig, logger *slog.Logger) *SessionListScanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SessionListScanner{cfg: cfg, logger: logger}
}

// Collect scans list and returns the deduplicated entries in first-seen
// order. The scan stops on StagnationLimit consecutive rounds with no new
// titles, when the scroll action reports no movement, or after MaxRounds.
// An empty result is an error: an unreadable list is indistinguishable
// from an empty one, and retrying is cheaper than silently reporting no
// conversations.
func (s *SessionListScanner) Collect(list uitree.Element) ([]ChatSummary, error) {
	scroller, canScroll := list.(uitree.Scroller)

	seen := make(map[string]struct{})
	var chats []ChatSummary
	stagnant := 0

	for round := 0; round < s.cfg.MaxRounds; round++ {
		fresh := 0
		for _, title := range uitree.RowTitles(list, s.cfg.RowTextDepth) {
			if _, dup := seen[title]; dup {
				continue
			}
			seen[title] = struct{}{}
			chats = append(chats, ChatSummary{ChatID: title, ChatTitle: title, Kind: ChatUnknown})
			fresh++
		}
		if fresh == 0 {
			stagnant++
			if stagnant >= s.cfg.StagnationLimit {
				break
			}
		} else {
			stagnant = 0
		}
		if !canScroll {
			break
		}
		moved, err := scroller.ScrollDown()
		if err != nil || !moved {
			break
		}
		time.Sleep(s.cfg.SettleDelay)
	}

	if len(chats) == 0 {
		return nil, fmt.Errorf("session list yielded no entries: %w", ErrNotFound)
	}
	s.logger.Debug("session list collected", "entries", len(chats))
	return chats, nil
}

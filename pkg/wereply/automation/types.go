// Package automation composes the accessibility-tree primitives into the
// chat-automation engine: session-list scanning, message watching, tiered
// input writing, and the platform-neutral facade the application consumes.
package automation

import "strings"

// ChatKind classifies a conversation.
type ChatKind string

const (
	ChatDirect  ChatKind = "direct"
	ChatGroup   ChatKind = "group"
	ChatUnknown ChatKind = "unknown"
)

// ChatSummary is one entry of the conversation list.
type ChatSummary struct {
	ChatID    string   `json:"chat_id"`
	ChatTitle string   `json:"chat_title"`
	Kind      ChatKind `json:"kind"`
}

// ListenTarget names a conversation the watcher should care about.
type ListenTarget struct {
	Name string   `json:"name"`
	Kind ChatKind `json:"kind"`
}

// IncomingMessage is the newest message seen in a watched conversation.
type IncomingMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	MsgID     string `json:"msg_id,omitempty"`
}

// MaxListenTargets caps how many targets one listener accepts.
const MaxListenTargets = 50

// NormalizeTargets trims names, drops empties, dedupes by name (first
// occurrence wins) and truncates to max entries, preserving order.
func NormalizeTargets(targets []ListenTarget, max int) []ListenTarget {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(targets))
	var out []ListenTarget
	for _, target := range targets {
		name := strings.TrimSpace(target.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		target.Name = name
		out = append(out, target)
		if len(out) >= max {
			break
		}
	}
	return out
}

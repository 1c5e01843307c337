package automation

import "github.com/wereply/wereply/pkg/wereply/uitree"

// PathSet carries the alternative path specs for the three controls the
// engine drives. Each list is tried in order; the first fully-resolving
// spec wins. Persisted path records (learned on a previous run) are
// prepended to these by the config layer.
type PathSet struct {
	SessionList []uitree.Spec
	MessageList []uitree.Spec
	Input       []uitree.Spec
}

// DefaultPathSet returns the static fallback paths observed across client
// versions: a variant with an intermediate scroll area and one without.
func DefaultPathSet() PathSet {
	containers := []string{"AXList", "AXTable", "AXOutline"}
	return PathSet{
		SessionList: []uitree.Spec{
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 0, ""),
				uitree.PathStep([]string{"AXScrollArea"}, 0, ""),
				uitree.PathStep(containers, 0, ""),
			},
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 0, ""),
				uitree.PathStep(containers, 0, ""),
			},
		},
		MessageList: []uitree.Spec{
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 1, ""),
				uitree.PathStep([]string{"AXScrollArea"}, 0, ""),
				uitree.PathStep(containers, 0, ""),
			},
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 1, ""),
				uitree.PathStep(containers, 0, ""),
			},
		},
		Input: []uitree.Spec{
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 1, ""),
				uitree.PathStep([]string{"AXTextArea", "AXTextField"}, 0, ""),
			},
			{
				uitree.PathStep([]string{"AXSplitGroup"}, 0, ""),
				uitree.PathStep([]string{"AXGroup"}, 1, ""),
				uitree.PathStep([]string{"AXGroup"}, 0, ""),
				uitree.PathStep([]string{"AXTextArea", "AXTextField"}, 0, ""),
			},
		},
	}
}

// Merge returns a copy of p with other's specs tried first. Used to seed
// the resolver with persisted paths before the static fallbacks.
func (p PathSet) Merge(other PathSet) PathSet {
	return PathSet{
		SessionList: append(append([]uitree.Spec{}, other.SessionList...), p.SessionList...),
		MessageList: append(append([]uitree.Spec{}, other.MessageList...), p.MessageList...),
		Input:       append(append([]uitree.Spec{}, other.Input...), p.Input...),
	}
}

// LearnedControl names a control whose path was recovered by a dynamic
// scan.
type LearnedControl string

const (
	LearnSessionList LearnedControl = "session_list"
	LearnMessageList LearnedControl = "message_list"
	LearnInput       LearnedControl = "input_box"
)

// PathRecorder persists control paths recovered by a dynamic scan, so the
// next run resolves them directly instead of scanning again. treeJSON is
// the window snapshot taken when the path was learned, kept for debugging
// layout changes; it may be nil. Implementations must be safe for
// concurrent use and must not fail the calling operation.
type PathRecorder interface {
	RecordLearnedPath(control LearnedControl, path uitree.Spec, treeJSON []byte)
}

// Package uitree provides the accessibility-tree primitives the automation
// engine is built on: the Element handle abstraction, declarative path
// resolution, bounded dynamic scanning with geometric scoring, and tree
// snapshots for diagnostics.
//
// The tree belongs to a live external process. Nodes must never be cached
// across calls — the client may relayout or exit between any two queries —
// and every attribute is optional: absence is routine, not an error.
package uitree

import "errors"

// ErrUnsupported reports that an action is not available on this control
// (for example SetValue on a read-only element, or scrolling a backend
// that exposes no scroll action).
var ErrUnsupported = errors.New("action unsupported on element")

// Rect is an element frame in screen coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX returns the horizontal midpoint of the rect.
func (r Rect) CenterX() float64 { return r.X + r.Width/2 }

// Element is a handle to one live node of the platform accessibility tree.
//
// Attribute getters return ok=false when the attribute is absent on the
// node; that is a normal outcome and callers are expected to fall through.
// Traversal is downward only (parent links are not exposed).
//
// Ownership follows the native handle: Children returns retained handles
// and the caller must Release every element it does not keep. Release is
// idempotent; attribute calls after Release are undefined.
type Element interface {
	Role() (string, bool)
	Title() (string, bool)
	Value() (string, bool)
	Frame() (Rect, bool)
	Enabled() (bool, bool)
	Focused() bool

	Children() []Element

	// SetValue writes text directly into the element's value attribute.
	// Returns ErrUnsupported when the control does not accept direct writes.
	SetValue(text string) error
	// Focus moves keyboard focus to the element.
	Focus() error

	Release()
}

// Scroller is implemented by elements that expose a native scroll action.
// ScrollDown reports whether the viewport actually moved; moved=false with
// a nil error means the end of the content was reached.
type Scroller interface {
	ScrollDown() (moved bool, err error)
}

// Notifier is implemented by elements that support change-notification
// subscriptions. SubscribeChanged invokes fn on any subtree mutation until
// the returned cancel func is called. Backends without native notifications
// simply do not implement this interface.
type Notifier interface {
	SubscribeChanged(fn func()) (cancel func(), err error)
}

// Keyboard synthesizes keystrokes into whatever holds focus.
// Chord syntax follows the backend ("cmd+a", "ctrl+v", "backspace").
type Keyboard interface {
	SendKeys(chord string) error
	SendText(text string) error
}

// Clipboard is the system clipboard as seen by the target client.
type Clipboard interface {
	GetText() (string, error)
	SetText(text string) error
}

// ReleaseAll releases every element in els. Helper for traversal code that
// enumerates children and keeps none of them.
func ReleaseAll(els []Element) {
	for _, el := range els {
		el.Release()
	}
}

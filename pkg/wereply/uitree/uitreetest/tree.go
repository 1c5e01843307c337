// Package uitreetest provides in-memory fake trees for exercising the
// automation engine without a live accessibility backend. The fakes mirror
// the behavior contract of uitree.Element: optional attributes, downward
// traversal, explicit release, and optional scroll/notify capabilities.
package uitreetest

import (
	"sync"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// Node is a fake uitree.Element.
type Node struct {
	RoleV  string
	TitleV string
	ValueV string
	FrameV *uitree.Rect
	// EnabledV is exposed when non-nil.
	EnabledV *bool
	FocusedV bool

	Kids []*Node

	// SetValueErr makes SetValue fail; uitree.ErrUnsupported models a
	// read-only control.
	SetValueErr error
	FocusErr    error

	// Releases counts Release calls, for ownership assertions.
	Releases int
	// Focused counts Focus calls.
	FocusCalls int
}

// New builds a node with a role, title and children.
func New(role, title string, kids ...*Node) *Node {
	return &Node{RoleV: role, TitleV: title, Kids: kids}
}

// Text builds a static-text leaf whose value is text.
func Text(text string) *Node {
	return &Node{RoleV: "AXStaticText", ValueV: text}
}

// WithValue sets the node value and returns the node.
func (n *Node) WithValue(v string) *Node { n.ValueV = v; return n }

// WithFrame sets the node frame and returns the node.
func (n *Node) WithFrame(x, y, w, h float64) *Node {
	n.FrameV = &uitree.Rect{X: x, Y: y, Width: w, Height: h}
	return n
}

func (n *Node) Role() (string, bool)  { return n.RoleV, n.RoleV != "" }
func (n *Node) Title() (string, bool) { return n.TitleV, n.TitleV != "" }
func (n *Node) Value() (string, bool) { return n.ValueV, n.ValueV != "" }

func (n *Node) Frame() (uitree.Rect, bool) {
	if n.FrameV == nil {
		return uitree.Rect{}, false
	}
	return *n.FrameV, true
}

func (n *Node) Enabled() (bool, bool) {
	if n.EnabledV == nil {
		return false, false
	}
	return *n.EnabledV, true
}

func (n *Node) Focused() bool { return n.FocusedV }

func (n *Node) Children() []uitree.Element {
	out := make([]uitree.Element, len(n.Kids))
	for i, kid := range n.Kids {
		out[i] = kid
	}
	return out
}

func (n *Node) SetValue(text string) error {
	if n.SetValueErr != nil {
		return n.SetValueErr
	}
	n.ValueV = text
	return nil
}

func (n *Node) Focus() error {
	n.FocusCalls++
	if n.FocusErr != nil {
		return n.FocusErr
	}
	n.FocusedV = true
	return nil
}

func (n *Node) Release() { n.Releases++ }

// PagedList is a fake scrollable list: Children exposes the current page
// of rows, ScrollDown advances to the next page and reports whether the
// viewport moved.
type PagedList struct {
	Node
	Pages     [][]*Node
	ScrollErr error

	page    int
	Scrolls int
}

// NewPagedList builds a list whose pages each contain one row per title.
func NewPagedList(role string, pages [][]string) *PagedList {
	list := &PagedList{Node: Node{RoleV: role}}
	for _, titles := range pages {
		var rows []*Node
		for _, title := range titles {
			rows = append(rows, New("AXGroup", "", Text(title)))
		}
		list.Pages = append(list.Pages, rows)
	}
	return list
}

func (l *PagedList) Children() []uitree.Element {
	if len(l.Pages) == 0 {
		return l.Node.Children()
	}
	rows := l.Pages[l.page]
	out := make([]uitree.Element, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}

func (l *PagedList) ScrollDown() (bool, error) {
	l.Scrolls++
	if l.ScrollErr != nil {
		return false, l.ScrollErr
	}
	if l.page+1 >= len(l.Pages) {
		return false, nil
	}
	l.page++
	return true, nil
}

// NotifyList is a fake message list with a change-notification hook.
type NotifyList struct {
	Node
	SubscribeErr error

	mu        sync.Mutex
	listeners []func()
	Cancels   int
}

func (l *NotifyList) SubscribeChanged(fn func()) (func(), error) {
	if l.SubscribeErr != nil {
		return nil, l.SubscribeErr
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.Cancels++
		l.mu.Unlock()
	}, nil
}

// Mutate fires all registered change listeners.
func (l *NotifyList) Mutate() {
	l.mu.Lock()
	listeners := append([]func(){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Keyboard records synthesized input. KeysErr fails SendKeys, TextErr
// fails SendText; they are independent so tests can fail one tier while
// keeping another usable.
type Keyboard struct {
	Keys    []string
	Texts   []string
	KeysErr error
	TextErr error
}

func (k *Keyboard) SendKeys(chord string) error {
	if k.KeysErr != nil {
		return k.KeysErr
	}
	k.Keys = append(k.Keys, chord)
	return nil
}

func (k *Keyboard) SendText(text string) error {
	if k.TextErr != nil {
		return k.TextErr
	}
	k.Texts = append(k.Texts, text)
	return nil
}

// Clipboard is an in-memory uitree.Clipboard.
type Clipboard struct {
	Content string
	GetErr  error
	SetErr  error
	// History records every SetText in order.
	History []string
}

func (c *Clipboard) GetText() (string, error) {
	if c.GetErr != nil {
		return "", c.GetErr
	}
	return c.Content, nil
}

func (c *Clipboard) SetText(text string) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	c.Content = text
	c.History = append(c.History, text)
	return nil
}

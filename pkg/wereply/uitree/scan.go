package uitree

import (
	"regexp"
	"strings"
)

// Role vocabularies cover both backend namings (AX* on macOS, bare control
// type names from the agent bridge). Kept as package vars so a backend with
// exotic role tags can extend them at startup.
var (
	// ContainerRoles tag elements that hold repeating rows.
	ContainerRoles = []string{
		"AXList", "AXTable", "AXOutline",
		"List", "Table", "Tree", "DataGrid",
	}
	// TextRoles tag leaf text fragments inside rows.
	TextRoles = []string{
		"AXStaticText", "AXTextArea",
		"Text", "StaticText",
	}
	// InputRoles tag editable text controls.
	InputRoles = []string{
		"AXTextArea", "AXTextField",
		"Edit", "Document",
	}
)

// PaneKind selects which side of the window a scan is looking for.
type PaneKind int

const (
	// ListPane is a narrow column of entries (the session list).
	ListPane PaneKind = iota
	// ContentPane is a wide pane of rows (the message transcript).
	ContentPane
)

// ScanConfig bounds a dynamic scan. The scoring constants recurred with
// different values across client versions, so they are tunable rather
// than hardcoded contracts.
type ScanConfig struct {
	// MaxDepth bounds the container search below the root.
	MaxDepth int `yaml:"max_depth"`
	// RowTextDepth bounds text collection inside one row.
	RowTextDepth int `yaml:"row_text_depth"`
	// RowCountCap caps the row-count contribution to the score.
	RowCountCap int `yaml:"row_count_cap"`
	// SideBonus is granted when the candidate sits on the expected side
	// of the window center.
	SideBonus int `yaml:"side_bonus"`
	// WidthBonus is granted when the candidate width ratio matches the
	// pane kind (narrow for lists, wide for content).
	WidthBonus int `yaml:"width_bonus"`
	// NarrowRatio is the width/window-width boundary between a list
	// column and a content pane.
	NarrowRatio float64 `yaml:"narrow_ratio"`
}

// DefaultScanConfig returns the observed working constants.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxDepth:     8,
		RowTextDepth: 4,
		RowCountCap:  40,
		SideBonus:    15,
		WidthBonus:   10,
		NarrowRatio:  0.45,
	}
}

// PaneCandidate is a scored container produced during a dynamic scan.
// Candidates are transient; only the winner survives the scan. Path is the
// spec that resolves root back to the element, empty when the element sits
// below a roleless node and cannot be addressed.
type PaneCandidate struct {
	Element   Element
	Path      Spec
	Score     int
	RowTitles []string
}

// FindPane walks the tree below root to MaxDepth, collects row-bearing
// containers, scores each against the window geometry and returns the
// highest-scoring one together with its row titles. Ties go to the later
// encounter, which in practice prefers the most recently attached subtree.
// ok=false means no container at all was found.
func FindPane(root Element, window Rect, kind PaneKind, cfg ScanConfig) (PaneCandidate, bool) {
	var best PaneCandidate
	found := false
	walk(root, cfg.MaxDepth, Spec{}, func(el Element, path Spec) bool {
		if !hasRole(el, ContainerRoles) {
			return true
		}
		titles := RowTitles(el, cfg.RowTextDepth)
		score := scorePane(el, window, kind, len(titles), cfg)
		if !found || score >= best.Score {
			if found {
				best.Element.Release()
			}
			best = PaneCandidate{Element: el, Path: path, Score: score, RowTitles: titles}
			found = true
			return false // keep: caller owns the winner
		}
		return true
	})
	return best, found
}

// FindInput locates an editable text control below root, preferring
// controls in the lower half of the content side of the window. Falls back
// to the first editable control anywhere in the subtree. The returned path
// resolves root back to the control, or is empty when the control cannot
// be addressed by a spec.
func FindInput(root Element, window Rect, maxDepth int) (Element, Spec, bool) {
	var preferred, fallback Element
	var preferredPath, fallbackPath Spec
	walk(root, maxDepth, Spec{}, func(el Element, path Spec) bool {
		if !hasRole(el, InputRoles) {
			return true
		}
		if frame, ok := el.Frame(); ok {
			lower := frame.Y >= window.Y+window.Height/2
			right := frame.CenterX() >= window.CenterX()
			if lower && right && preferred == nil {
				preferred, preferredPath = el, path
				return false
			}
		}
		if fallback == nil {
			fallback, fallbackPath = el, path
			return false
		}
		return true
	})
	if preferred != nil {
		if fallback != nil {
			fallback.Release()
		}
		return preferred, preferredPath, true
	}
	if fallback != nil {
		return fallback, fallbackPath, true
	}
	return nil, nil, false
}

func scorePane(el Element, window Rect, kind PaneKind, rows int, cfg ScanConfig) int {
	score := rows
	if score > cfg.RowCountCap {
		score = cfg.RowCountCap
	}
	frame, ok := el.Frame()
	if !ok || window.Width <= 0 {
		return score
	}
	leftSide := frame.CenterX() < window.CenterX()
	narrow := frame.Width/window.Width < cfg.NarrowRatio
	switch kind {
	case ListPane:
		if leftSide {
			score += cfg.SideBonus
		}
		if narrow {
			score += cfg.WidthBonus
		}
	case ContentPane:
		if !leftSide {
			score += cfg.SideBonus
		}
		if !narrow {
			score += cfg.WidthBonus
		}
	}
	return score
}

// walk runs visit on every node below root up to depth, passing the spec
// that resolves root to the node. A nil path means the node, or one of its
// ancestors, carries no role and cannot be addressed by a spec. visit
// returns whether the element should be released by the walker; returning
// false transfers ownership to the visitor. root itself is not visited.
func walk(root Element, depth int, prefix Spec, visit func(Element, Spec) bool) {
	if depth <= 0 {
		return
	}
	counts := make(map[string]int)
	for _, child := range root.Children() {
		var path Spec
		if role, ok := child.Role(); ok {
			if prefix != nil {
				step := Step{Roles: []string{role}, Index: counts[role]}
				path = append(prefix[:len(prefix):len(prefix)], step)
			}
			counts[role]++
		}
		release := visit(child, path)
		walk(child, depth-1, path, visit)
		if release {
			child.Release()
		}
	}
}

func hasRole(el Element, roles []string) bool {
	role, ok := el.Role()
	if !ok {
		return false
	}
	for _, candidate := range roles {
		if role == candidate {
			return true
		}
	}
	return false
}

// RowTitles extracts one display title per child row of a container,
// in row order. Rows with no usable text are skipped.
func RowTitles(container Element, depth int) []string {
	var titles []string
	children := container.Children()
	for _, row := range children {
		fragments := TextFragments(row, depth)
		if title := RowTitle(fragments); title != "" {
			titles = append(titles, title)
		}
	}
	ReleaseAll(children)
	return titles
}

// TextFragments collects the text content of el and its descendants down
// to depth, in encounter order. An element contributes its value when set,
// otherwise its title.
func TextFragments(el Element, depth int) []string {
	var fragments []string
	if text := elementText(el); text != "" {
		fragments = append(fragments, text)
	}
	walk(el, depth, nil, func(child Element, _ Spec) bool {
		if text := elementText(child); text != "" {
			fragments = append(fragments, text)
		}
		return true
	})
	return fragments
}

func elementText(el Element) string {
	if !hasRole(el, TextRoles) {
		return ""
	}
	if value, ok := el.Value(); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if title, ok := el.Title(); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return ""
}

// RowTitle picks the list-entry title among a row's text fragments: the
// first fragment that does not look like a timestamp. Rows that carry only
// time-like fragments fall back to the first fragment, because a clock
// string is still a better identifier than nothing.
func RowTitle(fragments []string) string {
	for _, f := range fragments {
		if !TimeLike(f) {
			return f
		}
	}
	if len(fragments) > 0 {
		return fragments[0]
	}
	return ""
}

// RowContent picks the message text among a row's fragments: the longest
// one, since sender names and clock labels are short.
func RowContent(fragments []string) string {
	best := ""
	for _, f := range fragments {
		if len(f) > len(best) {
			best = f
		}
	}
	return best
}

var (
	clockRe    = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)
	isoDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	meridiemRe = regexp.MustCompile(`(?i)^\d{1,2}(:\d{2})?\s*(am|pm)$`)
)

// TimeLike reports whether s looks like a clock time (HH:MM), an ISO date
// prefix (YYYY-MM-DD), or an AM/PM marker. Session rows interleave such
// labels with the actual entry titles.
func TimeLike(s string) bool {
	s = strings.TrimSpace(s)
	return clockRe.MatchString(s) || isoDateRe.MatchString(s) || meridiemRe.MatchString(s)
}

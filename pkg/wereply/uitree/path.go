package uitree

import "strings"

// Step is one match rule in a declarative element path: among the current
// node's children, keep those whose role is in Roles and whose title
// contains TitleContains (when set), then select the Index-th match.
type Step struct {
	// Roles are the candidate role strings for this step.
	Roles []string `json:"roles" yaml:"roles"`
	// Index selects the n-th matching child (0-based).
	Index int `json:"index" yaml:"index"`
	// TitleContains, when non-empty, additionally requires the child
	// title to contain this substring.
	TitleContains string `json:"title_contains,omitempty" yaml:"title_contains,omitempty"`
}

// Spec is an ordered list of steps leading from a root to one control.
// Specs are persisted and reloaded across runs, so they stay plain data.
type Spec []Step

// PathStep builds a Step. Convenience for static path tables.
func PathStep(roles []string, index int, titleContains string) Step {
	return Step{Roles: roles, Index: index, TitleContains: titleContains}
}

// Matches reports whether el satisfies the step's role and title filters.
func (s Step) Matches(el Element) bool {
	role, ok := el.Role()
	if !ok {
		return false
	}
	found := false
	for _, candidate := range s.Roles {
		if candidate == role {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if s.TitleContains != "" {
		title, _ := el.Title()
		if !strings.Contains(title, s.TitleContains) {
			return false
		}
	}
	return true
}

// Resolve walks spec from root and returns the element it reaches.
// A step whose index falls outside its match set fails the whole
// resolution: there are no partial results. The returned element is
// retained; root is never released.
func Resolve(root Element, spec Spec) (Element, bool) {
	if len(spec) == 0 {
		return nil, false
	}
	current := root
	for _, step := range spec {
		var matches []Element
		children := current.Children()
		for _, child := range children {
			if step.Matches(child) {
				matches = append(matches, child)
			} else {
				child.Release()
			}
		}
		if current != root {
			current.Release()
		}
		if step.Index < 0 || step.Index >= len(matches) {
			ReleaseAll(matches)
			return nil, false
		}
		next := matches[step.Index]
		for i, m := range matches {
			if i != step.Index {
				m.Release()
			}
		}
		current = next
	}
	return current, true
}

// ResolveFirst tries each spec in order and returns the first that fully
// resolves. Multiple alternatives tolerate layout drift across client
// versions: older specs keep working until none match.
func ResolveFirst(root Element, specs []Spec) (Element, bool) {
	for _, spec := range specs {
		if el, ok := Resolve(root, spec); ok {
			return el, true
		}
	}
	return nil, false
}

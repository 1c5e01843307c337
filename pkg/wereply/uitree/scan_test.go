package uitree_test

import (
	"encoding/json"
	"testing"

	"github.com/wereply/wereply/pkg/wereply/uitree"
	"github.com/wereply/wereply/pkg/wereply/uitree/uitreetest"
)

func listWithRows(role string, frame [4]float64, titles ...string) *uitreetest.Node {
	var rows []*uitreetest.Node
	for _, title := range titles {
		rows = append(rows, uitreetest.New("AXGroup", "", uitreetest.Text(title)))
	}
	list := uitreetest.New(role, "", rows...)
	return list.WithFrame(frame[0], frame[1], frame[2], frame[3])
}

func TestFindPanePrefersNarrowLeftColumnForLists(t *testing.T) {
	t.Parallel()

	window := uitree.Rect{X: 0, Y: 0, Width: 1000, Height: 700}
	sessions := listWithRows("AXTable", [4]float64{0, 50, 300, 650}, "Alice", "Bob", "Team")
	transcript := listWithRows("AXList", [4]float64{300, 50, 700, 550}, "hello", "hi", "see you")
	root := uitreetest.New("AXWindow", "",
		uitreetest.New("AXSplitGroup", "", sessions, transcript),
	)

	got, ok := uitree.FindPane(root, window, uitree.ListPane, uitree.DefaultScanConfig())
	if !ok {
		t.Fatal("FindPane() found nothing, want session list")
	}
	if got.Element != sessions {
		t.Errorf("FindPane(ListPane) picked the wrong pane (score %d)", got.Score)
	}
	want := []string{"Alice", "Bob", "Team"}
	if len(got.RowTitles) != len(want) {
		t.Fatalf("RowTitles = %v, want %v", got.RowTitles, want)
	}
	for i := range want {
		if got.RowTitles[i] != want[i] {
			t.Errorf("RowTitles[%d] = %q, want %q", i, got.RowTitles[i], want[i])
		}
	}
}

func TestFindPanePrefersWideRightPaneForContent(t *testing.T) {
	t.Parallel()

	window := uitree.Rect{X: 0, Y: 0, Width: 1000, Height: 700}
	sessions := listWithRows("AXTable", [4]float64{0, 50, 300, 650}, "Alice", "Bob", "Team")
	transcript := listWithRows("AXList", [4]float64{300, 50, 700, 550}, "hello", "hi")
	root := uitreetest.New("AXWindow", "",
		uitreetest.New("AXSplitGroup", "", sessions, transcript),
	)

	got, ok := uitree.FindPane(root, window, uitree.ContentPane, uitree.DefaultScanConfig())
	if !ok {
		t.Fatal("FindPane() found nothing, want transcript")
	}
	if got.Element != transcript {
		t.Errorf("FindPane(ContentPane) picked the wrong pane (score %d)", got.Score)
	}
}

func TestFindPaneTieGoesToLaterEncounter(t *testing.T) {
	t.Parallel()

	window := uitree.Rect{X: 0, Y: 0, Width: 1000, Height: 700}
	first := listWithRows("AXList", [4]float64{0, 0, 300, 700}, "a", "b")
	second := listWithRows("AXList", [4]float64{0, 0, 300, 700}, "c", "d")
	root := uitreetest.New("AXWindow", "", first, second)

	got, ok := uitree.FindPane(root, window, uitree.ListPane, uitree.DefaultScanConfig())
	if !ok {
		t.Fatal("FindPane() found nothing")
	}
	if got.Element != second {
		t.Error("FindPane() tie resolved to the earlier candidate, want later")
	}
}

func TestFindPaneRespectsDepthBound(t *testing.T) {
	t.Parallel()

	deep := listWithRows("AXList", [4]float64{0, 0, 300, 700}, "hidden")
	nested := deep
	for i := 0; i < 5; i++ {
		nested = uitreetest.New("AXGroup", "", nested)
	}
	root := uitreetest.New("AXWindow", "", nested)

	cfg := uitree.DefaultScanConfig()
	cfg.MaxDepth = 3
	if _, ok := uitree.FindPane(root, uitree.Rect{Width: 1000, Height: 700}, uitree.ListPane, cfg); ok {
		t.Error("FindPane() found a container beyond the depth bound")
	}
}

func TestFindInputPrefersLowerRightControl(t *testing.T) {
	t.Parallel()

	window := uitree.Rect{X: 0, Y: 0, Width: 1000, Height: 700}
	search := uitreetest.New("AXTextField", "search").WithFrame(10, 10, 200, 30)
	input := uitreetest.New("AXTextArea", "").WithFrame(350, 600, 600, 80)
	root := uitreetest.New("AXWindow", "",
		uitreetest.New("AXGroup", "", search),
		uitreetest.New("AXGroup", "", input),
	)

	got, path, ok := uitree.FindInput(root, window, 8)
	if !ok {
		t.Fatal("FindInput() found nothing")
	}
	if got != input {
		t.Error("FindInput() picked the search box, want the compose area")
	}
	resolved, ok := uitree.Resolve(root, path)
	if !ok || resolved != input {
		t.Errorf("reported path resolves to %v, want the compose area", resolved)
	}
}

func TestFindInputFallsBackToAnyEditable(t *testing.T) {
	t.Parallel()

	search := uitreetest.New("AXTextField", "search").WithFrame(10, 10, 200, 30)
	root := uitreetest.New("AXWindow", "", search)

	got, _, ok := uitree.FindInput(root, uitree.Rect{Width: 1000, Height: 700}, 8)
	if !ok {
		t.Fatal("FindInput() found nothing, want fallback")
	}
	if got != search {
		t.Error("FindInput() fallback picked the wrong control")
	}
}

func TestFindPanePathResolvesToWinner(t *testing.T) {
	t.Parallel()

	window := uitree.Rect{X: 0, Y: 0, Width: 1000, Height: 700}
	sessions := listWithRows("AXTable", [4]float64{0, 50, 300, 650}, "Alice", "Bob")
	transcript := listWithRows("AXList", [4]float64{300, 50, 700, 550}, "hello")
	// A decoy table before the winner, so the path needs a correct index.
	decoy := listWithRows("AXTable", [4]float64{600, 50, 380, 550}, "x")
	root := uitreetest.New("AXWindow", "",
		uitreetest.New("AXSplitGroup", "", decoy, sessions, transcript),
	)

	got, ok := uitree.FindPane(root, window, uitree.ListPane, uitree.DefaultScanConfig())
	if !ok {
		t.Fatal("FindPane() found nothing")
	}
	if got.Element != sessions {
		t.Fatalf("FindPane() picked the wrong pane (score %d)", got.Score)
	}
	if len(got.Path) == 0 {
		t.Fatal("FindPane() reported no path for an addressable pane")
	}
	resolved, ok := uitree.Resolve(root, got.Path)
	if !ok || resolved != sessions {
		t.Errorf("reported path resolves to %v, want the session list", resolved)
	}
}

func TestFindPanePathEmptyBelowRolelessNode(t *testing.T) {
	t.Parallel()

	list := listWithRows("AXTable", [4]float64{0, 50, 300, 650}, "Alice")
	root := uitreetest.New("AXWindow", "",
		uitreetest.New("", "", list), // roleless wrapper cannot be addressed
	)

	got, ok := uitree.FindPane(root, uitree.Rect{Width: 1000, Height: 700}, uitree.ListPane, uitree.DefaultScanConfig())
	if !ok {
		t.Fatal("FindPane() found nothing")
	}
	if len(got.Path) != 0 {
		t.Errorf("path = %v, want empty below a roleless node", got.Path)
	}
}

func TestRowTitleSkipsTimeLikeFragments(t *testing.T) {
	t.Parallel()

	got := uitree.RowTitle([]string{"09:11", "Alice", "See you tonight?"})
	if got != "Alice" {
		t.Errorf("RowTitle() = %q, want %q", got, "Alice")
	}
}

func TestRowTitleFallsBackWhenAllTimeLike(t *testing.T) {
	t.Parallel()

	got := uitree.RowTitle([]string{"09:11"})
	if got != "09:11" {
		t.Errorf("RowTitle() = %q, want %q", got, "09:11")
	}
}

func TestRowContentPrefersLongestFragment(t *testing.T) {
	t.Parallel()

	got := uitree.RowContent([]string{"09:11", "Alice", "See you tonight?"})
	if got != "See you tonight?" {
		t.Errorf("RowContent() = %q, want %q", got, "See you tonight?")
	}
}

func TestTimeLike(t *testing.T) {
	t.Parallel()

	timeLike := []string{"09:11", "9:05", "23:59:59", "2024-03-01", "2024-03-01 09:11", "11 AM", "9:30pm"}
	for _, s := range timeLike {
		if !uitree.TimeLike(s) {
			t.Errorf("TimeLike(%q) = false, want true", s)
		}
	}
	notTimeLike := []string{"Alice", "Meeting at 9", "AM radio", "12 Monkeys", ""}
	for _, s := range notTimeLike {
		if uitree.TimeLike(s) {
			t.Errorf("TimeLike(%q) = true, want false", s)
		}
	}
}

func TestSnapshotIncludesChildrenAndMetadata(t *testing.T) {
	t.Parallel()

	child := uitreetest.New("AXGroup", "child").WithFrame(1, 2, 3, 4)
	root := uitreetest.New("AXWindow", "root", child)

	node := uitree.Snapshot(root, 2)
	if node.Role == nil || *node.Role != "AXWindow" {
		t.Errorf("snapshot role = %v, want AXWindow", node.Role)
	}
	if len(node.Children) != 1 {
		t.Fatalf("snapshot children = %d, want 1", len(node.Children))
	}
	got := node.Children[0]
	if got.Title == nil || *got.Title != "child" {
		t.Errorf("child title = %v, want child", got.Title)
	}
	if got.Frame == nil || got.Frame.Width != 3 {
		t.Errorf("child frame = %v, want width 3", got.Frame)
	}
	if got.Value != nil {
		t.Error("absent value should snapshot as nil")
	}

	// The dump must stay valid JSON with null for absent attributes.
	raw, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(raw) == "" {
		t.Fatal("Marshal() produced empty output")
	}
}

func TestSnapshotRespectsDepthLimit(t *testing.T) {
	t.Parallel()

	leaf := uitreetest.Text("leaf")
	child := uitreetest.New("AXGroup", "child", leaf)
	root := uitreetest.New("AXWindow", "root", child)

	node := uitree.Snapshot(root, 1)
	if len(node.Children) != 1 {
		t.Fatalf("snapshot children = %d, want 1", len(node.Children))
	}
	if len(node.Children[0].Children) != 0 {
		t.Error("snapshot descended past the depth limit")
	}
}

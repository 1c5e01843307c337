package platform

import (
	"log/slog"
	"testing"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/config"
	"github.com/wereply/wereply/pkg/wereply/uitree"
)

func TestLearnedPathRecorderPersistsAndMerges(t *testing.T) {
	t.Parallel()

	store, err := config.NewPathStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewPathStore() error: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	recorder := &learnedPathRecorder{store: store, logger: logger}

	sessionPath := uitree.Spec{uitree.PathStep([]string{"AXTable"}, 1, "")}
	inputPath := uitree.Spec{uitree.PathStep([]string{"AXTextArea"}, 0, "")}
	recorder.RecordLearnedPath(automation.LearnSessionList, sessionPath, []byte("{}"))
	recorder.RecordLearnedPath(automation.LearnInput, inputPath, nil)

	stored, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if stored == nil {
		t.Fatal("Load() = nil, want the recorded paths")
	}
	if len(stored.SessionList) != 1 || stored.SessionList[0].Index != 1 {
		t.Errorf("session steps = %+v, want the recorded table step", stored.SessionList)
	}
	if len(stored.Input) != 1 || stored.Input[0].Roles[0] != "AXTextArea" {
		t.Errorf("input steps = %+v, want the recorded input step", stored.Input)
	}

	// The next backend start must try the learned paths first.
	paths := loadPaths(store, logger)
	if len(paths.SessionList) == 0 || len(paths.SessionList[0]) != 1 || paths.SessionList[0][0].Index != 1 {
		t.Errorf("merged session specs = %+v, want the learned spec first", paths.SessionList)
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/uitree"
)

const (
	// uiPathsFile stores the learned control paths.
	uiPathsFile = "wereply_ui_paths.json"
	// uiTreeFile stores the tree snapshot taken when the paths were
	// learned, kept for debugging layout changes.
	uiTreeFile = "wereply_ui_tree.json"

	// uiPathsVersion is bumped when the stored format changes; records
	// with another version are discarded, not migrated.
	uiPathsVersion = 1
)

// StoredUIPaths is the on-disk format of learned control paths.
type StoredUIPaths struct {
	Version     int           `json:"version"`
	SavedAt     int64         `json:"saved_at"`
	SessionList []uitree.Step `json:"session_list_path"`
	MessageList []uitree.Step `json:"message_list_path"`
	Input       []uitree.Step `json:"input_path"`
}

// UIPathsStatus describes what is persisted, for the status command.
type UIPathsStatus struct {
	Saved     bool   `json:"saved"`
	SavedAt   int64  `json:"saved_at,omitempty"`
	Version   int    `json:"version,omitempty"`
	PathsFile string `json:"paths_file,omitempty"`
	TreeFile  string `json:"tree_file,omitempty"`
}

// PathStore persists learned UI paths under one config directory.
type PathStore struct {
	dir string
}

// NewPathStore builds a store rooted at dir. An empty dir selects the
// user config directory.
func NewPathStore(dir string) (*PathStore, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config directory: %w", err)
		}
		dir = filepath.Join(base, "wereply")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	return &PathStore{dir: dir}, nil
}

// Load returns the persisted paths, or nil when nothing usable is
// stored. A version mismatch counts as nothing stored: the static
// fallback paths take over until the next learn run.
func (s *PathStore) Load() (*StoredUIPaths, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, uiPathsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read UI paths: %w", err)
	}
	var stored StoredUIPaths
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse UI paths: %w", err)
	}
	if stored.Version != uiPathsVersion {
		return nil, nil
	}
	return &stored, nil
}

// Save persists learned paths together with the tree snapshot they were
// learned from and returns the written file paths.
func (s *PathStore) Save(sessionList, messageList, input []uitree.Step, treeJSON []byte) ([]string, error) {
	stored := StoredUIPaths{
		Version:     uiPathsVersion,
		SavedAt:     time.Now().Unix(),
		SessionList: sessionList,
		MessageList: messageList,
		Input:       input,
	}
	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize UI paths: %w", err)
	}
	pathsFile := filepath.Join(s.dir, uiPathsFile)
	if err := os.WriteFile(pathsFile, data, 0o600); err != nil {
		return nil, fmt.Errorf("write UI paths: %w", err)
	}
	written := []string{pathsFile}
	if len(treeJSON) > 0 {
		treeFile := filepath.Join(s.dir, uiTreeFile)
		if err := os.WriteFile(treeFile, treeJSON, 0o600); err != nil {
			return nil, fmt.Errorf("write UI tree snapshot: %w", err)
		}
		written = append(written, treeFile)
	}
	return written, nil
}

// SaveLearned merges newly learned paths into the stored record: nil
// arguments keep whatever an earlier learn run stored for that control.
// The tree snapshot is replaced when treeJSON is non-empty.
func (s *PathStore) SaveLearned(sessionList, messageList, input []uitree.Step, treeJSON []byte) ([]string, error) {
	stored, err := s.Load()
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if sessionList == nil {
			sessionList = stored.SessionList
		}
		if messageList == nil {
			messageList = stored.MessageList
		}
		if input == nil {
			input = stored.Input
		}
	}
	return s.Save(sessionList, messageList, input, treeJSON)
}

// Clear removes the persisted paths and the tree snapshot. Absent files
// are not an error.
func (s *PathStore) Clear() error {
	for _, name := range []string{uiPathsFile, uiTreeFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// Status reports what is currently persisted.
func (s *PathStore) Status() (UIPathsStatus, error) {
	stored, err := s.Load()
	if err != nil {
		return UIPathsStatus{}, err
	}
	if stored == nil {
		return UIPathsStatus{Saved: false}, nil
	}
	status := UIPathsStatus{
		Saved:     true,
		SavedAt:   stored.SavedAt,
		Version:   stored.Version,
		PathsFile: filepath.Join(s.dir, uiPathsFile),
	}
	treeFile := filepath.Join(s.dir, uiTreeFile)
	if _, err := os.Stat(treeFile); err == nil {
		status.TreeFile = treeFile
	}
	return status, nil
}

// PathSet builds the resolver path set: the persisted paths, when any,
// tried before the static fallbacks.
func (s *PathStore) PathSet() (automation.PathSet, error) {
	base := automation.DefaultPathSet()
	stored, err := s.Load()
	if err != nil || stored == nil {
		return base, err
	}
	persisted := automation.PathSet{}
	if len(stored.SessionList) > 0 {
		persisted.SessionList = []uitree.Spec{uitree.Spec(stored.SessionList)}
	}
	if len(stored.MessageList) > 0 {
		persisted.MessageList = []uitree.Spec{uitree.Spec(stored.MessageList)}
	}
	if len(stored.Input) > 0 {
		persisted.Input = []uitree.Spec{uitree.Spec(stored.Input)}
	}
	return base.Merge(persisted), nil
}

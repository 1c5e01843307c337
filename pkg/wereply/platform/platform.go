// Package platform selects and assembles the automation backend for the
// host: the accessibility tree on macOS, the agent bridge where a helper
// process drives the UI, and the database reader everywhere else.
package platform

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/config"
	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
	"github.com/wereply/wereply/pkg/wereply/secrets"
	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// EnvAgentBin overrides the agent helper binary for the agent backend.
const EnvAgentBin = "WEREPLY_AGENT_BIN"

const defaultAgentBin = "wereply-agent"

// Select resolves a platform name to a concrete backend. "auto" picks by
// host OS; explicit names pass through.
func Select(name string) string {
	switch name {
	case "", "auto":
	default:
		return name
	}
	switch runtime.GOOS {
	case "darwin":
		return "tree"
	case "windows":
		return "agent"
	default:
		return "db"
	}
}

// New builds the backend cfg names and fronts it with the dispatching
// manager, so every call is bounded and panic-safe.
func New(cfg *config.Config, logger *slog.Logger) (*automation.Manager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	name := Select(cfg.Platform)
	impl, err := newBackend(name, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("platform %q: %w", name, err)
	}
	logger.Info("automation backend selected", "platform", impl.Platform())
	return automation.NewManager(impl, cfg.Automation.OpTimeout(), logger), nil
}

func newBackend(name string, cfg *config.Config, logger *slog.Logger) (automation.Automation, error) {
	switch name {
	case "tree":
		backend, err := newTreeBackend(logger)
		if err != nil {
			return nil, err
		}
		store := openPathStore(logger)
		tree := automation.NewTreeAutomation(backend, loadPaths(store, logger), cfg.Automation.TreeConfig(), logger)
		if store != nil {
			tree.SetPathRecorder(&learnedPathRecorder{store: store, logger: logger})
		}
		return tree, nil
	case "agent":
		bin := os.Getenv(EnvAgentBin)
		if bin == "" {
			resolved, err := exec.LookPath(defaultAgentBin)
			if err != nil {
				return nil, fmt.Errorf("agent helper %q not on PATH (set %s)", defaultAgentBin, EnvAgentBin)
			}
			bin = resolved
		}
		bridge, _, err := SpawnAgent(bin, nil, logger)
		if err != nil {
			return nil, err
		}
		return bridge, nil
	case "db":
		return newDBBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown platform name")
	}
}

// openPathStore opens the learned-path store in the user config
// directory. A nil result disables persisted paths and path learning;
// the backend still works on the static fallbacks.
func openPathStore(logger *slog.Logger) *config.PathStore {
	store, err := config.NewPathStore("")
	if err != nil {
		logger.Warn("ui path store unavailable, using static paths", "error", err)
		return nil
	}
	return store
}

// loadPaths merges persisted learned UI paths ahead of the static
// fallbacks. An unreadable record only costs the learned entries, never
// the backend.
func loadPaths(store *config.PathStore, logger *slog.Logger) automation.PathSet {
	if store == nil {
		return automation.DefaultPathSet()
	}
	paths, err := store.PathSet()
	if err != nil {
		logger.Warn("persisted ui paths unreadable, using static paths", "error", err)
		return automation.DefaultPathSet()
	}
	return paths
}

// learnedPathRecorder persists dynamically scanned control paths through
// the path store. A failed save is logged and otherwise ignored: it only
// means the next run scans again.
type learnedPathRecorder struct {
	mu     sync.Mutex
	store  *config.PathStore
	logger *slog.Logger
}

func (r *learnedPathRecorder) RecordLearnedPath(control automation.LearnedControl, path uitree.Spec, treeJSON []byte) {
	var sessionList, messageList, input []uitree.Step
	switch control {
	case automation.LearnSessionList:
		sessionList = path
	case automation.LearnMessageList:
		messageList = path
	case automation.LearnInput:
		input = path
	default:
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.store.SaveLearned(sessionList, messageList, input, treeJSON); err != nil {
		r.logger.Warn("persist learned ui paths", "control", string(control), "error", err)
		return
	}
	r.logger.Debug("learned ui path persisted", "control", string(control))
}

// newDBBackend wires the full key-recovery chain behind the reader: the
// OS keyring for persisted keys, live instrumentation unless disabled,
// and the login-store entropy scan as the last resort.
func newDBBackend(cfg *config.Config, logger *slog.Logger) (*DBAutomation, error) {
	layout, err := keyrecovery.DiscoverLayout(cfg.DataHome)
	if err != nil {
		return nil, err
	}
	store := secrets.NewStore(cfg.Keyring.Service, logger)
	var fetcher keyrecovery.KeyFetcher
	if !cfg.Recovery.DisableInstrumentation {
		fetcher = keyrecovery.NewInstrumentor(logger)
	}
	engine := keyrecovery.NewEngine(layout, store, fetcher, logger)
	return NewDBAutomation(keyrecovery.NewReader(layout, engine, logger), logger), nil
}

//go:build !darwin || !cgo

package platform

import (
	"fmt"
	"log/slog"

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// The accessibility-tree backend is macOS only; other platforms use the
// agent bridge or the database reader.
func newTreeBackend(_ *slog.Logger) (automation.Backend, error) {
	return nil, fmt.Errorf("accessibility tree backend requires macOS: %w", automation.ErrUnsupported)
}

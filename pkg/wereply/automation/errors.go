package automation

import (
	"errors"

	"github.com/wereply/wereply/pkg/wereply/uitree"
)

// Error taxonomy shared by the engine. Callers chain fallbacks on
// ErrNotFound and ErrUnsupported; ErrTimeout means a bounded wait was
// abandoned (the underlying native call may still be running);
// ErrDecryptFailed means the database key could not be recovered or was
// rejected, which callers must keep distinct from "no new messages";
// ErrLockAbandoned marks the watcher handle as unusable after a panic in
// its critical section — fatal to the watcher only, never to the process.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnsupported   = uitree.ErrUnsupported
	ErrTimeout       = errors.New("operation timed out")
	ErrDecryptFailed = errors.New("database decryption failed")
	ErrLockAbandoned = errors.New("watcher state abandoned mid-update")
)

package platform_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/wereply/wereply/pkg/wereply/config"
	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
	"github.com/wereply/wereply/pkg/wereply/platform"
)

func TestSelectExplicitNamePassesThrough(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"tree", "agent", "db"} {
		if got := platform.Select(name); got != name {
			t.Errorf("Select(%q) = %q, want passthrough", name, got)
		}
	}
}

func TestSelectAutoFollowsHostOS(t *testing.T) {
	t.Parallel()
	var want string
	switch runtime.GOOS {
	case "darwin":
		want = "tree"
	case "windows":
		want = "agent"
	default:
		want = "db"
	}
	if got := platform.Select("auto"); got != want {
		t.Errorf("Select(auto) = %q, want %q on %s", got, want, runtime.GOOS)
	}
	if got := platform.Select(""); got != want {
		t.Errorf("Select(\"\") = %q, want %q on %s", got, want, runtime.GOOS)
	}
}

func TestNewRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.Platform = "teleport"
	if _, err := platform.New(cfg, nil); err == nil {
		t.Fatal("New() accepted an unknown platform name")
	}
}

func TestNewDBPlatformRequiresLayout(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.Platform = "db"
	cfg.DataHome = t.TempDir() // no client data tree here

	_, err := platform.New(cfg, nil)
	if !errors.Is(err, keyrecovery.ErrLayoutNotFound) {
		t.Fatalf("New() error = %v, want ErrLayoutNotFound", err)
	}
}

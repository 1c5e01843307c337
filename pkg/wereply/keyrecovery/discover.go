package keyrecovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// containerDir is the client's data directory inside the user home.
const containerDir = "Library/Containers/com.tencent.xinWeChat/Data/Documents/xwechat_files"

// ErrLayoutNotFound reports a missing or incomplete client data tree.
var ErrLayoutNotFound = errors.New("client data layout not found")

// Layout locates the databases the reader and the recovery engine need.
type Layout struct {
	// SessionDB is the conversation index database.
	SessionDB string
	// MessageDBs are the sharded message databases, sorted by name.
	MessageDBs []string
	// KeyInfoDB is the unencrypted login store scanned for key material.
	KeyInfoDB string
}

// DiscoverLayout resolves the active account's database layout under the
// user home. With several accounts on one machine the most recently
// modified account directory wins.
func DiscoverLayout(home string) (Layout, error) {
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return Layout{}, fmt.Errorf("resolve home: %w", err)
		}
	}
	root := filepath.Join(home, filepath.FromSlash(containerDir))
	userRoot, err := latestAccountRoot(root)
	if err != nil {
		return Layout{}, err
	}

	layout := Layout{
		SessionDB: filepath.Join(userRoot, "db_storage", "session", "session.db"),
	}
	layout.MessageDBs, err = messageDBs(userRoot)
	if err != nil {
		return Layout{}, err
	}
	layout.KeyInfoDB = filepath.Join(root, "all_users", "login", filepath.Base(userRoot), "key_info.db")
	if !fileExists(layout.KeyInfoDB) {
		return Layout{}, fmt.Errorf("key_info.db missing under %s: %w", root, ErrLayoutNotFound)
	}
	return layout, nil
}

// FirstMessageDB returns the first message shard that exists on disk.
func (l Layout) FirstMessageDB() (string, error) {
	for _, path := range l.MessageDBs {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no message database on disk: %w", ErrLayoutNotFound)
}

func latestAccountRoot(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("data directory %s: %w", root, ErrLayoutNotFound)
	}
	var (
		newest     string
		newestTime time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "wxid_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(root, entry.Name())
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no account directory under %s: %w", root, ErrLayoutNotFound)
	}
	return newest, nil
}

func messageDBs(userRoot string) ([]string, error) {
	base := filepath.Join(userRoot, "db_storage", "message")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("message directory %s: %w", base, ErrLayoutNotFound)
	}
	var dbs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "message_") || !strings.HasSuffix(name, ".db") {
			continue
		}
		dbs = append(dbs, filepath.Join(base, name))
	}
	if len(dbs) == 0 {
		return nil, fmt.Errorf("no message database under %s: %w", base, ErrLayoutNotFound)
	}
	sort.Strings(dbs)
	return dbs, nil
}

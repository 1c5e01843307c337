package keyrecovery

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// attachCooldown spaces out instrumentation attempts: attaching to the
// client is disruptive enough that a failing setup must not be retried
// on every poll.
const attachCooldown = 30 * time.Second

// ErrKeyUnavailable reports that every recovery strategy failed.
var ErrKeyUnavailable = errors.New("database key could not be recovered")

// KeyStore persists a recovered key across runs. Implemented by
// secrets.Store.
type KeyStore interface {
	SaveDatabaseKey(key []byte) error
	LoadDatabaseKey() ([]byte, error)
}

// KeyFetcher pulls the key out of the live client process. Implemented
// by Instrumentor.
type KeyFetcher interface {
	FetchKey(ctx context.Context) ([]byte, error)
}

// Engine recovers the database key through a strategy chain: the cached
// key, the persisted key, live instrumentation, then an entropy scan of
// the client's login store. Every candidate is validated against the
// session database before it is trusted; the first validated key is
// persisted.
type Engine struct {
	sessionDB string
	keyInfoDB string
	store     KeyStore
	fetcher   KeyFetcher
	logger    *slog.Logger

	// keyMu guards the cached key; attemptMu guards the instrumentation
	// cooldown. They stay independent so a slow attach never blocks a
	// cache hit on another goroutine.
	keyMu sync.Mutex
	key   []byte

	attemptMu   sync.Mutex
	lastAttempt time.Time
}

// NewEngine wires the recovery chain for the given layout. store and
// fetcher may be nil to disable persistence or instrumentation.
func NewEngine(layout Layout, store KeyStore, fetcher KeyFetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		sessionDB: layout.SessionDB,
		keyInfoDB: layout.KeyInfoDB,
		store:     store,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// EnsureKey returns a key validated against the session database. The
// cached key is re-validated on every call: the client re-keys its
// databases on some upgrades, and a stale cache must not outlive that.
func (e *Engine) EnsureKey(ctx context.Context) ([]byte, error) {
	if key := e.cachedKey(); key != nil && e.validates(key) {
		return key, nil
	}

	if e.store != nil {
		if key, err := e.store.LoadDatabaseKey(); err == nil && e.validates(key) {
			e.setCached(key)
			return key, nil
		}
	}

	if e.fetcher != nil && e.shouldAttemptAttach() {
		key, err := e.fetcher.FetchKey(ctx)
		switch {
		case err != nil:
			e.logger.Warn("live key extraction failed", "error", err)
			if enabled, known := SIPEnabled(); known && enabled {
				e.logger.Warn("system integrity protection is enabled; process attachment may be blocked")
			}
		case e.validates(key):
			e.adopt(key)
			return key, nil
		default:
			e.logger.Warn("live-extracted key does not decrypt the session database")
		}
	}

	candidates, err := e.loginStoreCandidates(ctx)
	if err != nil {
		e.logger.Debug("login store scan unavailable", "error", err)
	}
	for _, candidate := range candidates {
		if e.validates(candidate) {
			e.adopt(candidate)
			return candidate, nil
		}
	}

	return nil, ErrKeyUnavailable
}

func (e *Engine) validates(key []byte) bool {
	_, err := ValidateKey(e.sessionDB, key)
	return err == nil
}

// cachedKey and setCached copy in both directions so the cache never
// aliases caller-owned memory.
func (e *Engine) cachedKey() []byte {
	e.keyMu.Lock()
	defer e.keyMu.Unlock()
	return bytes.Clone(e.key)
}

func (e *Engine) setCached(key []byte) {
	e.keyMu.Lock()
	e.key = bytes.Clone(key)
	e.keyMu.Unlock()
}

// adopt caches a freshly validated key and persists it for the next run.
func (e *Engine) adopt(key []byte) {
	e.setCached(key)
	if e.store == nil {
		return
	}
	if err := e.store.SaveDatabaseKey(key); err != nil {
		e.logger.Warn("could not persist database key", "error", err)
		return
	}
	e.logger.Info("database key stored in OS keyring")
}

// shouldAttemptAttach rate-limits instrumentation. An attempt inside the
// cooldown window is skipped; the timer restarts on every granted
// attempt, successful or not.
func (e *Engine) shouldAttemptAttach() bool {
	e.attemptMu.Lock()
	defer e.attemptMu.Unlock()
	if !e.lastAttempt.IsZero() && time.Since(e.lastAttempt) < attachCooldown {
		return false
	}
	e.lastAttempt = time.Now()
	return true
}

// loginStoreCandidates scans the unencrypted login store for key-grade
// byte windows. The store keeps opaque per-account blobs; the key sits
// somewhere inside them.
func (e *Engine) loginStoreCandidates(ctx context.Context) ([][]byte, error) {
	if e.keyInfoDB == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite3", "file:"+e.keyInfoDB+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open login store: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT key_info_data FROM LoginKeyInfoTable")
	if err != nil {
		return nil, fmt.Errorf("query login store: %w", err)
	}
	defer rows.Close()

	var candidates [][]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan login blob: %w", err)
		}
		candidates = append(candidates, KeyCandidates(blob)...)
	}
	return candidates, rows.Err()
}

package keyrecovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the plaintext copies.

	"github.com/wereply/wereply/pkg/wereply/automation"
)

// Column aliases observed across client schema revisions, in preference
// order. Matching is case-insensitive.
var (
	chatIDColumns = []string{
		"chat_id", "session_id", "talker", "username", "user_name",
		"user", "chatid", "conversation_id", "usrname",
	}
	titleColumns = []string{
		"chat_title", "title", "name", "nick", "nickname", "display_name",
	}
	textColumns = []string{
		"content", "text", "message", "msg", "strcontent", "body",
	}
	timeColumns = []string{
		"create_time", "createtime", "timestamp", "msg_time",
		"msgcreatetime", "time", "msgtime", "createTime",
	}
	idColumns = []string{
		"msg_id", "id", "local_id", "msgid", "server_id", "msgsvrid", "meslocalid",
	}
)

// KeyProvider hands out the database key. Implemented by the recovery
// Engine; tests supply a fixed key.
type KeyProvider interface {
	EnsureKey(ctx context.Context) ([]byte, error)
}

// cursor is the poll position: the newest (timestamp, message id) pair
// already reported. It only advances after a successful read, so a
// failed poll retries the same position.
type cursor struct {
	lastTimestamp int64
	lastMsgID     int64
}

// plainCopy is one cached decrypted copy, valid while the encrypted
// source keeps the recorded (mtime, size).
type plainCopy struct {
	modTime time.Time
	size    int64
	path    string
}

// Reader reads conversations and messages out of the client's databases.
// An encrypted database is decrypted to a temp copy that is reused across
// calls until the source file changes; a plaintext database is opened in
// place, which also covers test fixtures and the client's occasional
// unencrypted shards.
type Reader struct {
	layout Layout
	keys   KeyProvider
	logger *slog.Logger

	mu  sync.Mutex
	cur cursor

	copyMu sync.Mutex
	copies map[string]plainCopy
}

// NewReader builds a reader over layout. A nil logger disables logging.
func NewReader(layout Layout, keys KeyProvider, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{layout: layout, keys: keys, logger: logger, copies: make(map[string]plainCopy)}
}

// Close removes the cached decrypted copies. The reader stays usable;
// the next read decrypts again.
func (r *Reader) Close() error {
	r.copyMu.Lock()
	defer r.copyMu.Unlock()
	var firstErr error
	for source, c := range r.copies {
		if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
		delete(r.copies, source)
	}
	return firstErr
}

// ListRecentChats returns the most recent conversations from the session
// database, newest first, deduplicated by chat id. An empty list is an
// error: an empty result is indistinguishable from a schema mismatch.
func (r *Reader) ListRecentChats(ctx context.Context) ([]automation.ChatSummary, error) {
	db, cleanup, err := r.open(ctx, r.layout.SessionDB)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	table, chatCol, titleCol, err := locateSessionTable(ctx, db)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY rowid DESC LIMIT 200", chatCol, titleCol, table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query session table: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var chats []automation.ChatSummary
	for rows.Next() {
		var chatID, title sql.NullString
		if err := rows.Scan(&chatID, &title); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		id := strings.TrimSpace(chatID.String)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		chats = append(chats, automation.ChatSummary{
			ChatID:    id,
			ChatTitle: title.String,
			Kind:      automation.ChatUnknown,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("session table %s holds no conversations", table)
	}
	return chats, nil
}

// PollLatestMessage returns the newest message past the cursor, or nil
// when nothing new arrived. One message per call: the caller's poll loop
// drains bursts across calls.
func (r *Reader) PollLatestMessage(ctx context.Context) (*automation.IncomingMessage, error) {
	path, err := r.layout.FirstMessageDB()
	if err != nil {
		return nil, err
	}
	db, cleanup, err := r.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	table, err := locateMessageTable(ctx, db)
	if err != nil {
		return nil, err
	}
	columns, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	chatCol, ok := pickColumn(columns, chatIDColumns)
	if !ok {
		return nil, fmt.Errorf("message table %s has no chat column", table)
	}
	textCol, ok := pickColumn(columns, textColumns)
	if !ok {
		return nil, fmt.Errorf("message table %s has no text column", table)
	}
	timeCol, hasTime := pickColumn(columns, timeColumns)
	idCol, hasID := pickColumn(columns, idColumns)

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		query string
		args  []any
	)
	switch {
	case hasTime && hasID:
		query = fmt.Sprintf(
			"SELECT %s, %s, %s, %s FROM %s WHERE %s > ? OR (%s = ? AND %s > ?) ORDER BY %s DESC, %s DESC LIMIT 1",
			chatCol, textCol, timeCol, idCol, table, timeCol, timeCol, idCol, timeCol, idCol)
		args = []any{r.cur.lastTimestamp, r.cur.lastTimestamp, r.cur.lastMsgID}
	case hasTime:
		query = fmt.Sprintf(
			"SELECT %s, %s, %s FROM %s WHERE %s > ? ORDER BY %s DESC LIMIT 1",
			chatCol, textCol, timeCol, table, timeCol, timeCol)
		args = []any{r.cur.lastTimestamp}
	default:
		query = fmt.Sprintf(
			"SELECT %s, %s, rowid FROM %s WHERE rowid > ? ORDER BY rowid DESC LIMIT 1",
			chatCol, textCol, table)
		args = []any{r.cur.lastMsgID}
	}

	row := db.QueryRowContext(ctx, query, args...)
	var (
		chatID, text     sql.NullString
		first, second    int64
		timestamp, msgID int64
	)
	switch {
	case hasTime && hasID:
		err = row.Scan(&chatID, &text, &first, &second)
		timestamp, msgID = first, second
	case hasTime:
		err = row.Scan(&chatID, &text, &first)
		timestamp = first
	default:
		err = row.Scan(&chatID, &text, &first)
		timestamp, msgID = first, first
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}

	r.cur.lastTimestamp = timestamp
	r.cur.lastMsgID = msgID
	msg := &automation.IncomingMessage{
		ChatID:    chatID.String,
		Text:      text.String,
		Timestamp: timestamp,
	}
	if hasID || !hasTime {
		msg.MsgID = fmt.Sprintf("%d", msgID)
	}
	return msg, nil
}

// open yields a queryable handle for the database at path: in place when
// the file is plaintext, otherwise via a cached decrypted copy. The
// cleanup closes the handle; the copy belongs to the cache.
func (r *Reader) open(ctx context.Context, path string) (*sql.DB, func(), error) {
	plain, err := IsPlaintext(path)
	if err != nil {
		return nil, nil, fmt.Errorf("probe %s: %w", path, err)
	}
	target := path
	if !plain {
		target, err = r.decryptedCopy(ctx, path)
		if err != nil {
			return nil, nil, err
		}
	}
	db, err := sql.Open("sqlite3", "file:"+target+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, func() { db.Close() }, nil
}

// decryptedCopy returns a plaintext copy of the encrypted database at
// path, reusing the previous copy while the source's (mtime, size) is
// unchanged. Decrypting a message shard on every poll would not fit a
// sub-second poll interval.
func (r *Reader) decryptedCopy(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	r.copyMu.Lock()
	defer r.copyMu.Unlock()
	if c, ok := r.copies[path]; ok {
		if c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
			if _, err := os.Stat(c.path); err == nil {
				return c.path, nil
			}
		}
		os.Remove(c.path)
		delete(r.copies, path)
	}
	key, err := r.keys.EnsureKey(ctx)
	if err != nil {
		return "", err
	}
	target, _, err := DecryptToTemp(path, key)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", path, err)
	}
	r.copies[path] = plainCopy{modTime: info.ModTime(), size: info.Size(), path: target}
	r.logger.Debug("decrypted database copy refreshed", "source", path)
	return target, nil
}

// locateSessionTable scores every table for session-likeness: name
// keywords plus the presence of chat and title columns. The best scorer
// wins; no candidate at all is an error.
func locateSessionTable(ctx context.Context, db *sql.DB) (table, chatCol, titleCol string, err error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return "", "", "", err
	}
	best := -1
	for _, candidate := range tables {
		columns, err := tableColumns(ctx, db, candidate)
		if err != nil {
			return "", "", "", err
		}
		chat, okChat := pickColumn(columns, chatIDColumns)
		title, okTitle := pickColumn(columns, titleColumns)
		if !okChat || !okTitle {
			continue
		}
		score := 3 // both required columns present
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "session") {
			score += 2
		}
		if strings.Contains(lower, "chat") {
			score++
		}
		if score > best {
			best = score
			table, chatCol, titleCol = candidate, chat, title
		}
	}
	if best < 0 {
		return "", "", "", fmt.Errorf("no session-like table found")
	}
	return table, chatCol, titleCol, nil
}

func locateMessageTable(ctx context.Context, db *sql.DB) (string, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return "", err
	}
	best, bestTable := -1, ""
	for _, candidate := range tables {
		columns, err := tableColumns(ctx, db, candidate)
		if err != nil {
			return "", err
		}
		_, okChat := pickColumn(columns, chatIDColumns)
		_, okText := pickColumn(columns, textColumns)
		if !okChat || !okText {
			continue
		}
		score := 3
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "message") {
			score += 3
		}
		if strings.Contains(lower, "msg") {
			score++
		}
		if score > best {
			best = score
			bestTable = candidate
		}
	}
	if best < 0 {
		return "", fmt.Errorf("no message-like table found")
	}
	return bestTable, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// pickColumn returns the first alias present in columns, preserving the
// schema's own spelling.
func pickColumn(columns []string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		for _, col := range columns {
			if strings.EqualFold(col, alias) {
				return col, true
			}
		}
	}
	return "", false
}

// Package imessage reads recent chats from the macOS Messages database.
//
// The database is opened read-only for the duration of one Fetch and closed
// before it returns. Chats are normalized into conversation.Conversation at
// this boundary; no column names leak past it.
package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/logger"
)

// ErrStoreUnavailable is returned when chat.db cannot be opened.
var ErrStoreUnavailable = errors.New("local message store unavailable")

// appleEpoch is 2001-01-01T00:00:00Z, the zero point of message.date.
var appleEpoch = time.Unix(978307200, 0)

// secondsCutoff separates second-resolution dates (pre-2017 schema) from
// nanosecond dates; no real nanosecond value is this small.
const secondsCutoff = 1_000_000_000_000

// AppleTime converts a message.date value to a time.
func AppleTime(v int64) time.Time {
	if v > -secondsCutoff && v < secondsCutoff {
		return appleEpoch.Add(time.Duration(v) * time.Second).Local()
	}
	return appleEpoch.Add(time.Duration(v)).Local()
}

// ToAppleTime is the inverse of AppleTime in nanoseconds.
func ToAppleTime(t time.Time) int64 {
	return t.Sub(appleEpoch).Nanoseconds()
}

const recentChatsQuery = `
SELECT c.ROWID AS chat_id, c.chat_identifier, c.display_name
FROM chat c
JOIN chat_message_join cmj ON c.ROWID = cmj.chat_id
JOIN message m ON cmj.message_id = m.ROWID
WHERE m.date > ?
GROUP BY c.ROWID
ORDER BY MAX(m.date) DESC`

const chatMessagesQuery = `
SELECT m.ROWID AS message_id, m.text, m.date, m.is_from_me, h.id AS handle_id
FROM message m
JOIN chat_message_join cmj ON m.ROWID = cmj.message_id
LEFT JOIN handle h ON m.handle_id = h.ROWID
WHERE cmj.chat_id = ?
ORDER BY m.date DESC
LIMIT ?`

type chatRow struct {
	ChatID         int64          `db:"chat_id"`
	ChatIdentifier string         `db:"chat_identifier"`
	DisplayName    sql.NullString `db:"display_name"`
}

type messageRow struct {
	MessageID int64          `db:"message_id"`
	Text      sql.NullString `db:"text"`
	Date      int64          `db:"date"`
	IsFromMe  bool           `db:"is_from_me"`
	HandleID  sql.NullString `db:"handle_id"`
}

// Adapter is the local-message source.
type Adapter struct {
	cfg config.IMessageConfig
	now func() time.Time
}

// NewAdapter creates an Adapter for the database at cfg.DBPath.
func NewAdapter(cfg config.IMessageConfig) *Adapter {
	return &Adapter{cfg: cfg, now: time.Now}
}

// Kind identifies the source.
func (a *Adapter) Kind() conversation.Source { return conversation.SourceLocalMessage }

// Fetch returns one conversation per chat active within the lookback window,
// newest activity first.
func (a *Adapter) Fetch(ctx context.Context) ([]conversation.Conversation, error) {
	db, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cutoff := ToAppleTime(a.now().Add(-a.cfg.Lookback))
	var chats []chatRow
	if err := db.SelectContext(ctx, &chats, recentChatsQuery, cutoff); err != nil {
		return nil, fmt.Errorf("querying recent chats: %w", err)
	}
	logger.L.Debug("recent chats", "count", len(chats), "lookback", a.cfg.Lookback)

	window := a.cfg.Window
	if window <= 0 {
		window = 20
	}

	var out []conversation.Conversation
	for _, chat := range chats {
		var rows []messageRow
		if err := db.SelectContext(ctx, &rows, chatMessagesQuery, chat.ChatID, window); err != nil {
			return nil, fmt.Errorf("querying messages for chat %s: %w", chat.ChatIdentifier, err)
		}
		if c, ok := toConversation(chat, rows); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *Adapter) open(ctx context.Context) (*sqlx.DB, error) {
	path := a.cfg.DBPath
	if _, err := os.Stat(path); err != nil {
		return nil, unavailable(path, err)
	}
	db, err := sqlx.Open("sqlite", sqliteDSN(path, "ro"))
	if err != nil {
		return nil, unavailable(path, err)
	}
	// sqlite opens lazily; surface permission problems here, not mid-query
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable(path, err)
	}
	return db, nil
}

// sqliteDSN returns a URI filename for path, escaping characters sqlite would
// otherwise read as query or fragment delimiters.
func sqliteDSN(path, mode string) string {
	return (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=" + mode}).String()
}

func unavailable(path string, cause error) error {
	err := fmt.Errorf("%w: opening %s: %w", ErrStoreUnavailable, path, cause)
	if errors.Is(cause, fs.ErrNotExist) || errors.Is(cause, fs.ErrPermission) {
		err = errors.WithHint(err, "Grant Full Disk Access to your terminal in System Settings > Privacy & Security.")
	}
	return err
}

// toConversation maps rows, newest first as queried, to a chronological
// conversation. Rows without text are dropped; a chat left empty is skipped.
func toConversation(chat chatRow, rows []messageRow) (conversation.Conversation, bool) {
	if len(rows) == 0 {
		return conversation.Conversation{}, false
	}

	items := make([]conversation.Item, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if !r.Text.Valid || r.Text.String == "" {
			continue
		}
		sender := chat.ChatIdentifier
		switch {
		case r.IsFromMe:
			sender = conversation.SelfSender
		case r.HandleID.Valid && r.HandleID.String != "":
			sender = r.HandleID.String
		}
		items = append(items, conversation.Item{
			ID:        strconv.FormatInt(r.MessageID, 10),
			Sender:    sender,
			Text:      r.Text.String,
			Timestamp: AppleTime(r.Date),
		})
	}
	if len(items) == 0 {
		return conversation.Conversation{}, false
	}
	conversation.SortItems(items)

	label := chat.ChatIdentifier
	if chat.DisplayName.Valid && chat.DisplayName.String != "" {
		label = chat.DisplayName.String
	}
	return conversation.Conversation{
		Source:           conversation.SourceLocalMessage,
		ID:               chat.ChatIdentifier,
		ParticipantLabel: label,
		Items:            items,
		LastActivity:     AppleTime(rows[0].Date),
	}, true
}
